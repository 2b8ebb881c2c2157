// Package providers builds provider mailers from config credentials.
package providers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/core"
	"github.com/LotuxPunk/Hermes/internal/providers/mailgun"
	"github.com/LotuxPunk/Hermes/internal/providers/resend"
	"github.com/LotuxPunk/Hermes/internal/providers/sendgrid"
	"github.com/LotuxPunk/Hermes/internal/providers/ses"
	"github.com/LotuxPunk/Hermes/internal/providers/smtp"
)

// Factory creates a mailer for a set of credentials.
type Factory func(ctx context.Context, creds core.Credentials) (core.Mailer, error)

// New creates the mailer matching the credentials' provider.
func New(ctx context.Context, creds core.Credentials, logger zerolog.Logger) (core.Mailer, error) {
	switch creds.Provider {
	case core.ProviderResend:
		return resend.NewMailer(creds, logger)
	case core.ProviderSendGrid:
		return sendgrid.NewMailer(creds, logger)
	case core.ProviderMailgun:
		return mailgun.NewMailer(creds, logger)
	case core.ProviderSES:
		return ses.NewMailer(ctx, creds, logger)
	case core.ProviderSMTP:
		return smtp.NewMailer(creds, logger)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", creds.Provider)
	}
}

// NewFactory returns a Factory that logs through logger.
func NewFactory(logger zerolog.Logger) Factory {
	return func(ctx context.Context, creds core.Credentials) (core.Mailer, error) {
		return New(ctx, creds, logger)
	}
}
