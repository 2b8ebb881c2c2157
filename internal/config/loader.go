package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/LotuxPunk/Hermes"
)

// EnvPrefix prefixes every environment override, e.g. HERMES_SERVER_ADDR.
const EnvPrefix = "HERMES"

// legacyEnv maps keys to the environment names used by earlier deployments.
// The prefixed name wins when both are set.
var legacyEnv = map[string]string{
	"directories.contact_forms": "CONTACT_FORM_CONFIGS_FOLDER",
	"directories.mail_configs":  "MAIL_CONFIGS_FOLDER",
	"directories.templates":     "TEMPLATES_FOLDER",
	"queue.enabled":             "USE_MAIL_QUEUE",
	"queue.rate_limit":          "MAIL_RATE_LIMIT",
}

// Load reads configuration from defaults, an optional file, a .env file in
// the working directory and the environment, in increasing precedence.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	lib := hermes.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", lib.Queue.ShutdownTimeout)

	v.SetDefault("directories.mail_configs", "configs/mail")
	v.SetDefault("directories.contact_forms", "configs/contact")
	v.SetDefault("directories.templates", "templates")

	// The service queues by default; the library does not.
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.rate_limit", lib.Queue.RateLimit)
	v.SetDefault("queue.workers", lib.Queue.Workers)
	v.SetDefault("queue.max_retries", lib.Queue.MaxRetries)
	v.SetDefault("queue.retry_backoff", lib.Queue.RetryBackoff)

	v.SetDefault("retry.enabled", lib.Retry.Enabled)
	v.SetDefault("retry.max_retries", lib.Retry.MaxRetries)
	v.SetDefault("retry.delay", lib.Retry.Delay)

	v.SetDefault("batch.max_size", lib.Batch.MaxSize)

	v.SetDefault("captcha.recaptcha_endpoint", lib.Captcha.RecaptchaEndpoint)
	v.SetDefault("captcha.timeout", lib.Captcha.Timeout)
	v.SetDefault("captcha.challenge_ttl", lib.Captcha.ChallengeTTL)

	v.SetDefault("templates.cache_size", lib.Templates.CacheSize)
	v.SetDefault("templates.cache_ttl", lib.Templates.CacheTTL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
