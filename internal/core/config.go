package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
)

// Provider is the credential discriminator carried in the "provider" field
// of every config file.
type Provider string

const (
	// ProviderResend represents the Resend transactional API.
	ProviderResend Provider = "RESEND"

	// ProviderSendGrid represents the SendGrid email service.
	ProviderSendGrid Provider = "SENDGRID"

	// ProviderMailgun represents the Mailgun email service.
	ProviderMailgun Provider = "MAILGUN"

	// ProviderSES represents Amazon Simple Email Service.
	ProviderSES Provider = "SES"

	// ProviderSMTP represents a generic SMTP server.
	ProviderSMTP Provider = "SMTP"
)

// DefaultSMTPPort is the submission port used when a config omits smtpPort.
const DefaultSMTPPort = 587

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Valid checks if the provider is supported.
func (p Provider) Valid() bool {
	_, ok := credentialRules[p]
	return ok
}

// Credentials is the tagged union of provider credentials. Only the fields
// belonging to Provider are meaningful.
type Credentials struct {
	Provider Provider `json:"provider" validate:"required"`

	// RESEND, SENDGRID, MAILGUN
	APIKey string `json:"apiKey,omitempty"`

	// MAILGUN
	Domain  string `json:"domain,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`

	// SES
	Region       string `json:"region,omitempty"`
	AccessKey    string `json:"accessKey,omitempty"`
	SecretKey    string `json:"secretKey,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`

	// SMTP
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SMTPHost string `json:"smtpHost,omitempty"`
	SMTPPort int    `json:"smtpPort,omitempty"`
}

// Identifier derives a deterministic key from the credentials alone.
// Configs with equal identifiers share one mailer and one rate budget.
func (c Credentials) Identifier() string {
	switch c.Provider {
	case ProviderSMTP:
		return "smtp://" + c.Username + ":" + c.Password + "@" + c.SMTPHost + ":" + strconv.Itoa(c.port())
	case ProviderSendGrid:
		return "sendgrid://" + c.APIKey
	case ProviderMailgun:
		return "mailgun://" + c.APIKey + "@" + c.Domain
	case ProviderSES:
		key := c.AccessKey
		if key == "" {
			key = "default"
		}
		return "ses://" + key + "@" + c.Region
	default:
		return c.APIKey
	}
}

func (c Credentials) port() int {
	if c.SMTPPort == 0 {
		return DefaultSMTPPort
	}
	return c.SMTPPort
}

type requiredField struct {
	name  string
	value func(Credentials) string
}

// credentialRules is the discriminator lookup table: the required fields of
// each provider variant.
var credentialRules = map[Provider][]requiredField{
	ProviderResend:   {{"apiKey", func(c Credentials) string { return c.APIKey }}},
	ProviderSendGrid: {{"apiKey", func(c Credentials) string { return c.APIKey }}},
	ProviderMailgun: {
		{"apiKey", func(c Credentials) string { return c.APIKey }},
		{"domain", func(c Credentials) string { return c.Domain }},
	},
	ProviderSES: {{"region", func(c Credentials) string { return c.Region }}},
	ProviderSMTP: {
		{"username", func(c Credentials) string { return c.Username }},
		{"password", func(c Credentials) string { return c.Password }},
		{"smtpHost", func(c Credentials) string { return c.SMTPHost }},
	},
}

// Validate checks the variant's required fields.
func (c *Credentials) Validate() error {
	rules, ok := credentialRules[c.Provider]
	if !ok {
		return NewValidationErrorWithValue("provider", "unsupported provider", string(c.Provider))
	}
	for _, rule := range rules {
		if strings.TrimSpace(rule.value(*c)) == "" {
			return NewValidationError(rule.name, "required for provider "+string(c.Provider))
		}
	}
	if c.Provider == ProviderSES && (c.AccessKey == "") != (c.SecretKey == "") {
		return NewValidationError("secretKey", "accessKey and secretKey must be set together")
	}
	if c.Provider == ProviderSMTP {
		if c.SMTPPort == 0 {
			c.SMTPPort = DefaultSMTPPort
		}
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			return NewValidationErrorWithValue("smtpPort", "invalid port number", c.SMTPPort)
		}
	}
	return nil
}

// Config is implemented by every record held in a config store.
type Config interface {
	ConfigID() string
	ProviderCredentials() Credentials
}

// MailConfig configures transactional mail sent through SendMail.
type MailConfig struct {
	ID string `json:"id" validate:"required"`
	Credentials
	Sender          string `json:"sender" validate:"required"`
	SubjectTemplate string `json:"subjectTemplate" validate:"required"`
}

// ConfigID returns the config id.
func (c *MailConfig) ConfigID() string { return c.ID }

// ProviderCredentials returns the embedded credentials.
func (c *MailConfig) ProviderCredentials() Credentials { return c.Credentials }

// ContactFormConfig configures a public contact form.
type ContactFormConfig struct {
	ID string `json:"id" validate:"required"`
	Credentials
	DailyLimit      int           `json:"dailyLimit" validate:"min=1"`
	Destination     string        `json:"destination" validate:"required"`
	Sender          string        `json:"sender" validate:"required"`
	Lang            string        `json:"lang"`
	SubjectTemplate string        `json:"subjectTemplate" validate:"required"`
	Captcha         CaptchaConfig `json:"captcha"`
}

// ConfigID returns the config id.
func (c *ContactFormConfig) ConfigID() string { return c.ID }

// ProviderCredentials returns the embedded credentials.
func (c *ContactFormConfig) ProviderCredentials() Credentials { return c.Credentials }

// Limit returns the daily send limit.
func (c *ContactFormConfig) Limit() int { return c.DailyLimit }

// Destinations returns the configured destination addresses.
func (c *ContactFormConfig) Destinations() []string {
	return SplitAddresses(c.Destination)
}

// CaptchaProvider is the captcha discriminator.
type CaptchaProvider string

const (
	// CaptchaGoogleRecaptcha is score-threshold verification.
	CaptchaGoogleRecaptcha CaptchaProvider = "GOOGLE_RECAPTCHA"

	// CaptchaKerberus is proof-of-work challenge verification.
	CaptchaKerberus CaptchaProvider = "KERBERUS"
)

// CaptchaConfig is the tagged union of captcha settings.
// Threshold applies to GOOGLE_RECAPTCHA only.
type CaptchaConfig struct {
	Provider  CaptchaProvider `json:"provider" validate:"required"`
	SecretKey string          `json:"secretKey" validate:"required"`
	Threshold float64         `json:"threshold,omitempty"`
}

var captchaRules = map[CaptchaProvider]func(CaptchaConfig) error{
	CaptchaGoogleRecaptcha: func(c CaptchaConfig) error {
		if c.Threshold < 0 || c.Threshold > 1 {
			return NewValidationErrorWithValue("captcha.threshold", "must be between 0.0 and 1.0", c.Threshold)
		}
		return nil
	},
	CaptchaKerberus: func(CaptchaConfig) error { return nil },
}

// Validate checks the captcha variant.
func (c CaptchaConfig) Validate() error {
	rule, ok := captchaRules[c.Provider]
	if !ok {
		return NewValidationErrorWithValue("captcha.provider", "unsupported captcha provider", string(c.Provider))
	}
	return rule(c)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a mail config.
func (c *MailConfig) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	return c.Credentials.Validate()
}

// Validate checks a contact form config.
func (c *ContactFormConfig) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	if err := c.Credentials.Validate(); err != nil {
		return err
	}
	if err := c.Captcha.Validate(); err != nil {
		return err
	}
	if c.Lang != "" {
		if _, err := language.Parse(c.Lang); err != nil {
			return NewValidationErrorWithValue("lang", "invalid language tag", c.Lang)
		}
	}
	if len(c.Destinations()) == 0 {
		return NewValidationError("destination", "at least one destination address required")
	}
	return nil
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationErrorWithValue(lowerFirst(fe.Field()), "failed on '"+fe.Tag()+"'", fe.Value())
	}
	return err
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// DecodeMailConfig decodes and validates a mail config file.
func DecodeMailConfig(data []byte) (*MailConfig, error) {
	var cfg MailConfig
	if err := decodeJSON(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeContactFormConfig decodes and validates a contact form config file.
func DecodeContactFormConfig(data []byte) (*ContactFormConfig, error) {
	var cfg ContactFormConfig
	if err := decodeJSON(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeJSON(data []byte, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewValidationError("file", "empty config")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
