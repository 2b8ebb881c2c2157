// Package config loads the settings of the hermes service.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes"
	"github.com/LotuxPunk/Hermes/internal/logging"
)

// Config is the service configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Directories DirectoriesConfig `mapstructure:"directories"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	Templates   TemplateConfig    `mapstructure:"templates"`
	Logging     logging.Config    `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DirectoriesConfig locates the watched directories.
type DirectoriesConfig struct {
	MailConfigs  string `mapstructure:"mail_configs"`
	ContactForms string `mapstructure:"contact_forms"`
	Templates    string `mapstructure:"templates"`
}

// QueueConfig holds queued delivery settings.
type QueueConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RateLimit    int           `mapstructure:"rate_limit"`
	Workers      int           `mapstructure:"workers"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// RetryConfig holds the direct delivery retry policy.
type RetryConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	Delay      time.Duration `mapstructure:"delay"`
}

// BatchConfig holds batch limits.
type BatchConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

// CaptchaConfig holds captcha verification settings.
type CaptchaConfig struct {
	RecaptchaEndpoint string        `mapstructure:"recaptcha_endpoint"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ChallengeTTL      time.Duration `mapstructure:"challenge_ttl"`
}

// TemplateConfig holds template cache settings.
type TemplateConfig struct {
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// Validate checks the service settings and the dispatcher settings derived
// from them.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.addr: %w", err))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	dispatcher := c.Dispatcher(zerolog.Nop())
	if err := dispatcher.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Dispatcher converts the settings into a dispatcher configuration.
func (c *Config) Dispatcher(logger zerolog.Logger) hermes.Config {
	cfg := hermes.DefaultConfig()

	cfg.Directories = hermes.DirectoriesConfig{
		MailConfigs:  c.Directories.MailConfigs,
		ContactForms: c.Directories.ContactForms,
		Templates:    c.Directories.Templates,
	}
	cfg.Queue.Enabled = c.Queue.Enabled
	cfg.Queue.RateLimit = c.Queue.RateLimit
	cfg.Queue.Workers = c.Queue.Workers
	cfg.Queue.MaxRetries = c.Queue.MaxRetries
	cfg.Queue.RetryBackoff = c.Queue.RetryBackoff
	cfg.Queue.ShutdownTimeout = c.Server.ShutdownTimeout
	cfg.Retry = hermes.RetryConfig{
		Enabled:    c.Retry.Enabled,
		MaxRetries: c.Retry.MaxRetries,
		Delay:      c.Retry.Delay,
	}
	cfg.Batch.MaxSize = c.Batch.MaxSize
	cfg.Captcha = hermes.CaptchaConfig{
		RecaptchaEndpoint: c.Captcha.RecaptchaEndpoint,
		Timeout:           c.Captcha.Timeout,
		ChallengeTTL:      c.Captcha.ChallengeTTL,
	}
	cfg.Templates = hermes.TemplateConfig{
		CacheSize: c.Templates.CacheSize,
		CacheTTL:  c.Templates.CacheTTL,
	}
	cfg.Logger = logger
	return cfg
}
