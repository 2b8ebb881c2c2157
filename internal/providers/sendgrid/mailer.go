package sendgrid

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Name is the provider name used in logs and errors.
const Name = "sendgrid"

// Client is the subset of the SendGrid client used by the mailer.
type Client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Mailer implements core.Mailer for SendGrid.
type Mailer struct {
	client Client
	logger zerolog.Logger
}

// NewMailer creates a SendGrid mailer from SENDGRID credentials.
func NewMailer(creds core.Credentials, logger zerolog.Logger) (*Mailer, error) {
	if creds.APIKey == "" {
		return nil, core.NewValidationError("apiKey", "SendGrid API key is required")
	}
	return NewMailerWithClient(sendgrid.NewSendClient(creds.APIKey), logger), nil
}

// NewMailerWithClient creates a mailer around an existing client.
func NewMailerWithClient(client Client, logger zerolog.Logger) *Mailer {
	return &Mailer{
		client: client,
		logger: logger.With().Str("provider", Name).Logger(),
	}
}

// SendEmail sends one message with every recipient in a single personalization.
func (m *Mailer) SendEmail(ctx context.Context, to []string, from, subject, content string) core.SendOperationResult {
	if len(to) == 0 {
		return core.SendOperationResult{}
	}

	fromName, fromAddr := core.SplitName(from)
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(fromName, fromAddr))
	message.Subject = subject

	personalization := mail.NewPersonalization()
	for _, recipient := range to {
		name, addr := core.SplitName(recipient)
		personalization.AddTos(mail.NewEmail(name, addr))
	}
	message.AddPersonalizations(personalization)
	message.AddContent(mail.NewContent("text/html", content))

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return m.failure(to, 0, err)
	}
	if response.StatusCode >= 300 {
		return m.failure(to, response.StatusCode, errors.New(response.Body))
	}

	m.logger.Debug().Strs("to", to).Strs("message_id", response.Headers["X-Message-Id"]).Msg("sent")
	return core.SentTo(to...)
}

// SendEmails sends each message individually. SendGrid's v3 API has no
// per-message result for multi-message requests.
func (m *Mailer) SendEmails(ctx context.Context, mails []core.Mail) core.SendOperationResult {
	return core.SendEach(ctx, mails, func(ctx context.Context, msg core.Mail) core.SendOperationResult {
		return m.SendEmail(ctx, []string{msg.To}, msg.From, msg.Subject, msg.Content)
	})
}

func (m *Mailer) failure(to []string, status int, err error) core.SendOperationResult {
	perr := core.NewHTTPProviderError(Name, status, err)
	m.logger.Warn().Err(perr).Strs("to", to).Msg("send failed")
	return core.FailedWith(perr.Kind, to...)
}

var _ core.Mailer = (*Mailer)(nil)
