package hermes

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for configuring the dispatcher.
type Option func(*Config)

// WithDirectories sets the watched config and template directories.
func WithDirectories(mailConfigs, contactForms, templates string) Option {
	return func(c *Config) {
		c.Directories.MailConfigs = mailConfigs
		c.Directories.ContactForms = contactForms
		c.Directories.Templates = templates
	}
}

// WithQueue enables queued delivery at rateLimit sends per second per
// credential identity.
func WithQueue(rateLimit, workers int) Option {
	return func(c *Config) {
		c.Queue.Enabled = true
		c.Queue.RateLimit = rateLimit
		c.Queue.Workers = workers
	}
}

// WithQueueRetry configures retries inside the queue.
func WithQueueRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Config) {
		c.Queue.MaxRetries = maxRetries
		c.Queue.RetryBackoff = backoff
	}
}

// WithoutQueue sends directly through the provider mailers.
func WithoutQueue() Option {
	return func(c *Config) {
		c.Queue.Enabled = false
	}
}

// WithRetry configures retries of temporary failures on direct delivery.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.Retry.Enabled = true
		c.Retry.MaxRetries = maxRetries
		c.Retry.Delay = delay
	}
}

// WithoutRetry disables retries on direct delivery.
func WithoutRetry() Option {
	return func(c *Config) {
		c.Retry.Enabled = false
	}
}

// WithBatchSize sets the provider batch ceiling.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.Batch.MaxSize = size
	}
}

// WithRecaptchaEndpoint overrides the reCAPTCHA siteverify URL.
func WithRecaptchaEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Captcha.RecaptchaEndpoint = endpoint
	}
}

// WithChallengeTTL sets how long proof-of-work challenges stay valid.
func WithChallengeTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.Captcha.ChallengeTTL = ttl
	}
}

// WithTemplateCache configures the parsed template cache.
func WithTemplateCache(size int, ttl time.Duration) Option {
	return func(c *Config) {
		c.Templates.CacheSize = size
		c.Templates.CacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMailerFactory replaces the built-in provider mailers.
func WithMailerFactory(factory MailerFactory) Option {
	return func(c *Config) {
		c.MailerFactory = factory
	}
}

// WithHTTPClient sets the HTTP client used for captcha verification.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}
