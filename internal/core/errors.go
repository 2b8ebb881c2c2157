package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every package of the dispatcher.
var (
	// ErrConfigNotFound indicates no configuration is loaded for an id.
	ErrConfigNotFound = errors.New("config not found")

	// ErrTemplateNotFound indicates no template is loaded for a config id.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrDailyLimitExceeded indicates a contact form exhausted its daily quota.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")

	// ErrCaptchaFailed indicates captcha verification did not succeed.
	ErrCaptchaFailed = errors.New("recaptcha failed")

	// ErrInvalidArgument indicates malformed or mismatched input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrQueueClosed indicates the dispatch queue no longer accepts items.
	ErrQueueClosed = errors.New("queue closed")

	// ErrClosed indicates the dispatcher has been closed.
	ErrClosed = errors.New("dispatcher closed")
)

// ValidationError represents a validation error with specific field information.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Message is the validation error message.
	Message string

	// Value is the invalid value (optional).
	Value interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Is matches other validation errors and ErrInvalidArgument.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidArgument {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrorWithValue creates a new validation error with a value.
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// DailyLimitError is returned when a contact form's quota is exhausted.
type DailyLimitError struct {
	ConfigID string
	Limit    int
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("Daily limit reached. Limit: %d", e.Limit)
}

// Unwrap lets errors.Is match ErrDailyLimitExceeded.
func (e *DailyLimitError) Unwrap() error {
	return ErrDailyLimitExceeded
}

// ProviderError describes a failed provider call. Mailers log it and fold
// its classification into the send result.
type ProviderError struct {
	// Provider is the name of the provider that generated the error.
	Provider string

	// StatusCode is the HTTP status or SMTP reply code, 0 when unknown.
	StatusCode int

	// Kind is the classification derived from the status.
	Kind FailureType

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s %s failure (status: %d): %v", e.Provider, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("provider %s %s failure: %v", e.Provider, e.Kind, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Temporary reports whether the failure is eligible for retry.
func (e *ProviderError) Temporary() bool {
	return e.Kind == FailureTemporary
}

// NewHTTPProviderError classifies an HTTP provider failure by status code.
func NewHTTPProviderError(provider string, status int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Kind:       ClassifyHTTPStatus(status),
		Cause:      cause,
	}
}

// IsTemporary checks if an error is a temporary provider failure.
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return false
}
