package hermes

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes/internal/captcha"
	"github.com/LotuxPunk/Hermes/internal/queue"
)

// Config holds the complete dispatcher configuration.
type Config struct {
	// Directories locates the watched config and template directories.
	Directories DirectoriesConfig

	// Queue contains queued delivery configuration.
	Queue QueueConfig

	// Retry contains the retry policy for direct delivery.
	Retry RetryConfig

	// Batch contains batch send limits.
	Batch BatchConfig

	// Captcha contains captcha verification settings.
	Captcha CaptchaConfig

	// Templates contains template engine configuration.
	Templates TemplateConfig

	// Logger receives the dispatcher's logs. The zero value discards them.
	Logger zerolog.Logger

	// MailerFactory builds provider mailers. Defaults to the built-in providers.
	MailerFactory MailerFactory

	// HTTPClient is used for captcha verification. Defaults to a client with
	// Captcha.Timeout.
	HTTPClient *http.Client
}

// DirectoriesConfig locates the watched directories.
type DirectoriesConfig struct {
	// MailConfigs holds one MailConfig JSON file per transactional mail.
	MailConfigs string

	// ContactForms holds one ContactFormConfig JSON file per form.
	ContactForms string

	// Templates holds one template body per config, named after the config id.
	Templates string
}

// QueueConfig contains queued delivery configuration. When enabled, each
// credential identity gets its own rate-limited queue.
type QueueConfig struct {
	// Enabled switches from direct to queued delivery.
	Enabled bool

	// RateLimit is the number of sends per second per credential identity.
	RateLimit int

	// Workers is the number of workers per queue.
	Workers int

	// MaxRetries bounds retries of temporary failures.
	MaxRetries int

	// RetryBackoff is multiplied by the attempt number to get the retry delay.
	RetryBackoff time.Duration

	// ShutdownTimeout bounds the backlog drain on Close.
	ShutdownTimeout time.Duration
}

// BatchConfig contains batch send limits.
type BatchConfig struct {
	// MaxSize is the provider batch ceiling per credential identity.
	MaxSize int
}

// CaptchaConfig contains captcha verification settings.
type CaptchaConfig struct {
	// RecaptchaEndpoint is the siteverify URL.
	RecaptchaEndpoint string

	// Timeout bounds each verification request.
	Timeout time.Duration

	// ChallengeTTL is how long an issued proof-of-work challenge stays valid.
	ChallengeTTL time.Duration
}

// TemplateConfig contains template engine configuration.
type TemplateConfig struct {
	// CacheSize is the maximum number of parsed templates kept in memory.
	CacheSize int

	// CacheTTL is how long a parsed template stays cached.
	CacheTTL time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queue: QueueConfig{
			Enabled:         false,
			RateLimit:       queue.DefaultRateLimit,
			Workers:         queue.DefaultWorkers,
			MaxRetries:      3,
			RetryBackoff:    queue.DefaultRetryBackoff,
			ShutdownTimeout: 30 * time.Second,
		},
		Retry: DefaultRetryConfig(),
		Batch: BatchConfig{
			MaxSize: 100,
		},
		Captcha: CaptchaConfig{
			RecaptchaEndpoint: captcha.DefaultRecaptchaEndpoint,
			Timeout:           10 * time.Second,
			ChallengeTTL:      captcha.ChallengeTTL,
		},
		Templates: TemplateConfig{
			CacheSize: 256,
			CacheTTL:  time.Hour,
		},
		Logger: zerolog.Nop(),
	}
}

// Validate checks if the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.Directories.MailConfigs == "" {
		return &ValidationError{
			Field:   "directories.mail_configs",
			Message: "mail config directory is required",
		}
	}

	if c.Directories.ContactForms == "" {
		return &ValidationError{
			Field:   "directories.contact_forms",
			Message: "contact form config directory is required",
		}
	}

	if c.Directories.Templates == "" {
		return &ValidationError{
			Field:   "directories.templates",
			Message: "template directory is required",
		}
	}

	if c.Queue.Enabled {
		if c.Queue.RateLimit <= 0 {
			return &ValidationError{
				Field:   "queue.rate_limit",
				Message: "rate limit must be greater than 0",
			}
		}
		if c.Queue.Workers <= 0 {
			return &ValidationError{
				Field:   "queue.workers",
				Message: "workers must be greater than 0",
			}
		}
		if c.Queue.MaxRetries < 0 {
			return &ValidationError{
				Field:   "queue.max_retries",
				Message: "max retries must not be negative",
			}
		}
	}

	if c.Retry.Enabled {
		if c.Retry.MaxRetries < 0 {
			return &ValidationError{
				Field:   "retry.max_retries",
				Message: "max retries must not be negative",
			}
		}
		if c.Retry.Delay < 0 {
			return &ValidationError{
				Field:   "retry.delay",
				Message: "delay must not be negative",
			}
		}
	}

	if c.Batch.MaxSize <= 0 {
		return &ValidationError{
			Field:   "batch.max_size",
			Message: "batch size must be greater than 0",
		}
	}

	if c.Captcha.ChallengeTTL <= 0 {
		return &ValidationError{
			Field:   "captcha.challenge_ttl",
			Message: "challenge ttl must be greater than 0",
		}
	}

	return nil
}

func (c *Config) queueConfig() *queue.Config {
	if !c.Queue.Enabled {
		return nil
	}
	return &queue.Config{
		RateLimit:    c.Queue.RateLimit,
		Workers:      c.Queue.Workers,
		MaxRetries:   c.Queue.MaxRetries,
		RetryBackoff: c.Queue.RetryBackoff,
	}
}
