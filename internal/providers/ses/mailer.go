package ses

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Name is the provider name used in logs and errors.
const Name = "aws_ses"

// API is the subset of the SES client used by the mailer.
type API interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Mailer implements core.Mailer for AWS SES.
type Mailer struct {
	client API
	logger zerolog.Logger
}

// NewMailer creates an SES mailer from SES credentials. Without an access
// key the default AWS credential chain is used.
func NewMailer(ctx context.Context, creds core.Credentials, logger zerolog.Logger) (*Mailer, error) {
	if creds.Region == "" {
		return nil, core.NewValidationError("region", "AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(creds.Region))
	if err != nil {
		return nil, core.NewValidationErrorWithValue("region", "failed to load AWS config: "+err.Error(), creds.Region)
	}

	if creds.AccessKey != "" {
		if creds.SecretKey == "" {
			return nil, core.NewValidationError("secretKey", "secret key is required when access key is provided")
		}
		cfg.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     creds.AccessKey,
				SecretAccessKey: creds.SecretKey,
				SessionToken:    creds.SessionToken,
			}, nil
		})
	}

	return NewMailerWithClient(ses.NewFromConfig(cfg), logger), nil
}

// NewMailerWithClient creates a mailer around an existing client.
func NewMailerWithClient(client API, logger zerolog.Logger) *Mailer {
	return &Mailer{
		client: client,
		logger: logger.With().Str("provider", Name).Logger(),
	}
}

// SendEmail sends one HTML message to all recipients.
func (m *Mailer) SendEmail(ctx context.Context, to []string, from, subject, content string) core.SendOperationResult {
	if len(to) == 0 {
		return core.SendOperationResult{}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: to,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(content), Charset: aws.String("UTF-8")},
			},
		},
	}

	output, err := m.client.SendEmail(ctx, input)
	if err != nil {
		perr := classify(err)
		m.logger.Warn().Err(perr).Strs("to", to).Msg("send failed")
		return core.FailedWith(perr.Kind, to...)
	}

	m.logger.Debug().Str("message_id", aws.ToString(output.MessageId)).Strs("to", to).Msg("sent")
	return core.SentTo(to...)
}

// SendEmails sends each message individually. SES has no batch send for
// distinct message bodies.
func (m *Mailer) SendEmails(ctx context.Context, mails []core.Mail) core.SendOperationResult {
	return core.SendEach(ctx, mails, func(ctx context.Context, msg core.Mail) core.SendOperationResult {
		return m.SendEmail(ctx, []string{msg.To}, msg.From, msg.Subject, msg.Content)
	})
}

// classify maps an SES error to a provider error. SES reports throttling
// as 400, so the error code takes precedence over the status.
func classify(err error) *core.ProviderError {
	status := 0
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
	}

	perr := core.NewHTTPProviderError(Name, status, err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "ServiceUnavailable":
			perr.Kind = core.FailureTemporary
		case "MessageRejected", "MailFromDomainNotVerifiedException":
			perr.Kind = core.FailureBounced
		}
	}
	return perr
}

var _ core.Mailer = (*Mailer)(nil)
