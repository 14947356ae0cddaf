package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	LinksFile   string `envconfig:"LINKS_FILE" default:"links.txt"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	VaultDomain string `envconfig:"VAULT_DOMAIN" default:"vimm.net"`
	Referer     string `envconfig:"REFERER" default:"https://vimm.net/"`
	UserAgent   string `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	RetryWait         time.Duration `envconfig:"RETRY_WAIT" default:"5s"`
	MaxRetryWait      time.Duration `envconfig:"MAX_RETRY_WAIT" default:"2m"`
	StalePendingAfter time.Duration `envconfig:"STALE_PENDING_AFTER" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	// DiagnosticMode aborts on checksum mismatch instead of deleting the
	// offending artifact, so the bytes stay around for inspection.
	DiagnosticMode bool `envconfig:"DIAGNOSTIC_MODE" default:"false"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string `envconfig:"DB_PATH" default:"downloads.db"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
