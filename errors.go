package hermes

import (
	"fmt"

	"github.com/LotuxPunk/Hermes/internal/core"
)

// Sentinel errors. Match them with errors.Is.
var (
	// ErrConfigNotFound indicates no configuration is loaded for an id.
	ErrConfigNotFound = core.ErrConfigNotFound

	// ErrTemplateNotFound indicates no template is loaded for a config id.
	ErrTemplateNotFound = core.ErrTemplateNotFound

	// ErrDailyLimitExceeded indicates a contact form exhausted its daily quota.
	// The concrete error is a *DailyLimitError carrying the limit.
	ErrDailyLimitExceeded = core.ErrDailyLimitExceeded

	// ErrCaptchaFailed indicates captcha verification did not succeed.
	ErrCaptchaFailed = core.ErrCaptchaFailed

	// ErrInvalidArgument indicates malformed or mismatched input.
	// Every *ValidationError matches it.
	ErrInvalidArgument = core.ErrInvalidArgument

	// ErrQueueClosed indicates the dispatch queue no longer accepts items.
	ErrQueueClosed = core.ErrQueueClosed

	// ErrClosed indicates the dispatcher has been closed.
	ErrClosed = core.ErrClosed
)

// TemplateError represents an error in template processing.
type TemplateError struct {
	// Template is the id of the config whose template failed.
	Template string

	// Operation is the operation that failed ("parse" or "render").
	Operation string

	// Message is the error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in %s during %s: %s", e.Template, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// NewTemplateError creates a new template error.
func NewTemplateError(template, operation, message string, cause error) *TemplateError {
	return &TemplateError{
		Template:  template,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
