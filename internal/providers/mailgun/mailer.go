package mailgun

import (
	"context"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Name is the provider name used in logs and errors.
const Name = "mailgun"

// Sender is the subset of the Mailgun client used by the mailer.
type Sender interface {
	Send(ctx context.Context, message *mailgun.Message) (mes string, id string, err error)
}

// Mailer implements core.Mailer for Mailgun.
type Mailer struct {
	client Sender
	logger zerolog.Logger
}

// NewMailer creates a Mailgun mailer from MAILGUN credentials.
func NewMailer(creds core.Credentials, logger zerolog.Logger) (*Mailer, error) {
	if creds.APIKey == "" {
		return nil, core.NewValidationError("apiKey", "Mailgun API key is required")
	}
	if creds.Domain == "" {
		return nil, core.NewValidationError("domain", "Mailgun domain is required")
	}

	client := mailgun.NewMailgun(creds.Domain, creds.APIKey)

	// EU accounts use a different API base.
	if creds.BaseURL != "" {
		client.SetAPIBase(creds.BaseURL)
	}

	return NewMailerWithClient(client, logger), nil
}

// NewMailerWithClient creates a mailer around an existing client.
func NewMailerWithClient(client Sender, logger zerolog.Logger) *Mailer {
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

	message := mailgun.NewMessage(from, subject, "", to...)
	message.SetHTML(content)

	_, id, err := m.client.Send(ctx, message)
	if err != nil {
		status := mailgun.GetStatusFromErr(err)
		if status < 0 {
			status = 0
		}
		perr := core.NewHTTPProviderError(Name, status, err)
		m.logger.Warn().Err(perr).Strs("to", to).Msg("send failed")
		return core.FailedWith(perr.Kind, to...)
	}

	m.logger.Debug().Str("message_id", id).Strs("to", to).Msg("sent")
	return core.SentTo(to...)
}

// SendEmails sends each message individually so every recipient is
// classified on its own.
func (m *Mailer) SendEmails(ctx context.Context, mails []core.Mail) core.SendOperationResult {
	return core.SendEach(ctx, mails, func(ctx context.Context, msg core.Mail) core.SendOperationResult {
		return m.SendEmail(ctx, []string{msg.To}, msg.From, msg.Subject, msg.Content)
	})
}

var _ core.Mailer = (*Mailer)(nil)
