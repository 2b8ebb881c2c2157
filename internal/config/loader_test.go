package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if !cfg.Queue.Enabled || cfg.Queue.RateLimit != 10 {
		t.Errorf("Queue = %+v, want enabled at 10/s", cfg.Queue)
	}
	if cfg.Captcha.ChallengeTTL != 10*time.Minute {
		t.Errorf("Captcha.ChallengeTTL = %v", cfg.Captcha.ChallengeTTL)
	}

	d := cfg.Dispatcher(zerolog.Nop())
	if d.Directories.Templates != "templates" || d.Queue.ShutdownTimeout != cfg.Server.ShutdownTimeout {
		t.Errorf("Dispatcher() = %+v", d)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hermes.yaml")
	content := `
server:
  addr: "127.0.0.1:9000"
directories:
  mail_configs: /srv/mail
queue:
  workers: 8
  retry_backoff: 250ms
logging:
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Directories.MailConfigs != "/srv/mail" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Queue.Workers != 8 || cfg.Queue.RetryBackoff != 250*time.Millisecond {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Directories.Templates != "templates" {
		t.Errorf("unset key lost its default: %q", cfg.Directories.Templates)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("HERMES_SERVER_ADDR", ":7000")
	t.Setenv("TEMPLATES_FOLDER", "/legacy/templates")
	t.Setenv("USE_MAIL_QUEUE", "false")
	t.Setenv("MAIL_RATE_LIMIT", "3")
	t.Setenv("HERMES_QUEUE_RATE_LIMIT", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Directories.Templates != "/legacy/templates" {
		t.Errorf("legacy TEMPLATES_FOLDER ignored: %q", cfg.Directories.Templates)
	}
	if cfg.Queue.Enabled {
		t.Error("legacy USE_MAIL_QUEUE=false ignored")
	}
	if cfg.Queue.RateLimit != 5 {
		t.Errorf("Queue.RateLimit = %d, want prefixed variable to win", cfg.Queue.RateLimit)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad address", map[string]string{"HERMES_SERVER_ADDR": "nowhere"}},
		{"negative shutdown", map[string]string{"HERMES_SERVER_SHUTDOWN_TIMEOUT": "-1s"}},
		{"zero batch", map[string]string{"HERMES_BATCH_MAX_SIZE": "0"}},
		{"zero rate", map[string]string{"MAIL_RATE_LIMIT": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}
