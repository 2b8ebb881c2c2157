package hermes

import (
	"context"

	"github.com/LotuxPunk/Hermes/internal/core"
	"github.com/LotuxPunk/Hermes/internal/queue"
)

// Type aliases to re-export core types for the public API.
type (
	Mailer              = core.Mailer
	Mail                = core.Mail
	MailInput           = core.MailInput
	ContactForm         = core.ContactForm
	Challenge           = core.Challenge
	Solution            = core.Solution
	Credentials         = core.Credentials
	MailConfig          = core.MailConfig
	ContactFormConfig   = core.ContactFormConfig
	SendOperationResult = core.SendOperationResult
	SendStatus          = core.SendStatus
	QueuedMailResult    = core.QueuedMailResult
	ValidationError     = core.ValidationError
	DailyLimitError     = core.DailyLimitError
	QueueStats          = queue.Stats
)

// Status constants
const (
	StatusSent    = core.StatusSent
	StatusPartial = core.StatusPartial
	StatusFailed  = core.StatusFailed
)

// Error constructor functions
var (
	NewValidationError          = core.NewValidationError
	NewValidationErrorWithValue = core.NewValidationErrorWithValue
)

type (
	// MailerFactory builds the mailer for a set of credentials. It is called
	// once per credential identity.
	MailerFactory func(ctx context.Context, creds Credentials) (Mailer, error)

	// TemplateEngine defines the interface for template rendering.
	// Models may contain nested maps and lists.
	TemplateEngine interface {
		// Render renders an HTML body.
		Render(body string, data interface{}) (string, error)

		// RenderText renders plain text without HTML escaping.
		RenderText(body string, data interface{}) (string, error)
	}
)
