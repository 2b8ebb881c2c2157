package core

import (
	"strings"
)

// MailInput is a request to send a templated mail to one recipient.
// Attributes may contain nested maps and lists.
type MailInput struct {
	ID         string                 `json:"id" validate:"required"`
	Email      string                 `json:"email" validate:"required,email"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Validate checks the input.
func (in *MailInput) Validate() error {
	return validateStruct(in)
}

// ContactForm is a public contact form submission. Exactly one of
// RecaptchaToken and Solution carries the captcha response.
type ContactForm struct {
	ID             string    `json:"id" validate:"required"`
	FullName       string    `json:"fullName" validate:"required"`
	Email          string    `json:"email" validate:"required,email"`
	Content        string    `json:"content" validate:"required"`
	Destinations   []string  `json:"destinations,omitempty" validate:"omitempty,dive,email"`
	RecaptchaToken string    `json:"recaptchaToken,omitempty"`
	Solution       *Solution `json:"solution,omitempty"`
}

// Validate checks the submission.
func (f *ContactForm) Validate() error {
	if err := validateStruct(f); err != nil {
		return err
	}
	if (f.Solution != nil) == (strings.TrimSpace(f.RecaptchaToken) != "") {
		return NewValidationError("captcha", "exactly one of recaptchaToken and solution is required")
	}
	return nil
}

// CaptchaResponse returns the submission's captcha payload.
func (f *ContactForm) CaptchaResponse() CaptchaResponse {
	if f.Solution != nil {
		return CaptchaResponse{Provider: CaptchaKerberus, Solution: f.Solution}
	}
	return CaptchaResponse{Provider: CaptchaGoogleRecaptcha, Token: f.RecaptchaToken}
}

// Model returns the template model of the submission.
func (f *ContactForm) Model(lang string) map[string]interface{} {
	return map[string]interface{}{
		"form": map[string]interface{}{
			"id":       f.ID,
			"fullName": f.FullName,
			"email":    f.Email,
			"content":  f.Content,
		},
		"lang": lang,
	}
}

// CaptchaResponse is the user's answer to a captcha, tagged by variant.
type CaptchaResponse struct {
	Provider CaptchaProvider
	Token    string
	Solution *Solution
}

// Challenge is a proof-of-work puzzle issued to a client.
type Challenge struct {
	ID               string   `json:"id"`
	Salts            []string `json:"salts"`
	DifficultyFactor uint32   `json:"difficultyFactor"`
}

// Solution answers a Challenge with one nonce per salt, in salt order.
type Solution struct {
	ID    string   `json:"id"`
	Proof []uint64 `json:"proof"`
}
