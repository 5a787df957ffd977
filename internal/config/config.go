// Package config provides centralized configuration management for the loader.
// It loads configuration from environment variables (optionally seeded from a
// .env file) with sensible defaults and validates all settings on startup to
// fail fast on misconfiguration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Paths    PathConfig
	Pipeline PipelineConfig
	Retry    RetryConfig
	Storage  StorageConfig
	Notify   NotifyConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds warehouse connection settings.
type DatabaseConfig struct {
	// URL is the warehouse connection string (required). The SQL dialect is
	// inferred from its scheme: postgres, mysql, sqlite, sqlserver.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MaxIdleConns is the number of idle connections to keep open (default: 4)
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// AcquireTimeout bounds how long a pipeline phase waits for a pooled
	// connection (default: 30s)
	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT" default:"30s"`

	// SQLServerBulkCopy opts into the native bulk-load fast path when the
	// target warehouse is SQL Server (default: false)
	SQLServerBulkCopy bool `env:"SQL_SERVER_BULKCOPY_FLAG" default:"false"`
}

// PathConfig holds the three storage locations the pipeline works against.
// Each may be a local directory or a cloud URI (s3://, gs://, azure://).
type PathConfig struct {
	// DirectoryPath is the source location scanned for files (required)
	DirectoryPath string `env:"DIRECTORY_PATH" required:"true"`

	// ArchivePath receives a copy of every file before processing (required)
	ArchivePath string `env:"ARCHIVE_PATH" required:"true"`

	// DuplicateFilesPath receives files whose filename was already loaded (required)
	DuplicateFilesPath string `env:"DUPLICATE_FILES_PATH" required:"true"`
}

// PipelineConfig holds batch processing settings.
type PipelineConfig struct {
	// BatchSize is the read/validate/write batch boundary (default: 10000)
	BatchSize int `env:"BATCH_SIZE" default:"10000"`

	// Workers is the number of parallel file workers.
	// 0 means one per CPU core (default: 0)
	Workers int `env:"WORKERS" default:"0"`
}

// RetryConfig holds the bounded exponential-backoff settings applied to
// storage and database operations.
type RetryConfig struct {
	// Attempts is the total attempt budget per operation (default: 3)
	Attempts int `env:"RETRY_ATTEMPTS" default:"3"`

	// InitialDelay is the first backoff interval (default: 250ms)
	InitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" default:"250ms"`

	// Multiplier grows the interval between attempts (default: 2.0)
	Multiplier float64 `env:"RETRY_MULTIPLIER" default:"2.0"`
}

// StorageConfig holds object-storage adapter settings.
type StorageConfig struct {
	// Platform selects the storage adapter: default, aws, gcp, azure
	Platform string `env:"FILE_HELPER_PLATFORM" default:"default"`

	// AWSRegion overrides the SDK's default region chain
	AWSRegion string `env:"AWS_REGION"`
}

// NotifyConfig holds email and webhook notification settings.
// Notifications are best-effort; the pipeline never blocks on them.
type NotifyConfig struct {
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" default:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`

	// FromEmail is the sender for failure notifications
	FromEmail string `env:"FROM_EMAIL"`

	// DataTeamEmail is always CC'd on failure notifications
	DataTeamEmail string `env:"DATA_TEAM_EMAIL"`

	// WebhookURL receives the end-of-run summary and unhandled failures
	WebhookURL string `env:"WEBHOOK_URL"`

	// RequestTimeout bounds each webhook POST (default: 10s)
	RequestTimeout time.Duration `env:"WEBHOOK_TIMEOUT" default:"10s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SupportedDialects maps connection-URL schemes to dialect names.
var SupportedDialects = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
	"sqlite":     "sqlite",
	"sqlserver":  "sqlserver",
	"mssql":      "sqlserver",
}

// Dialect returns the SQL dialect name inferred from the database URL scheme.
func (c DatabaseConfig) Dialect() (string, error) {
	scheme, _, found := strings.Cut(c.URL, "://")
	if !found {
		// sqlite URLs are commonly plain file paths or "file:x.db?..."
		if strings.HasPrefix(c.URL, "file:") || strings.HasSuffix(c.URL, ".db") || c.URL == ":memory:" {
			return "sqlite", nil
		}
		return "", fmt.Errorf("database URL %q has no scheme", c.URL)
	}
	if dialect, ok := SupportedDialects[strings.ToLower(scheme)]; ok {
		return dialect, nil
	}
	return "", fmt.Errorf("unsupported database dialect in URL scheme %q", scheme)
}

// Validate checks configuration consistency beyond per-field parsing.
func (c *Config) Validate() error {
	if _, err := c.Database.Dialect(); err != nil {
		return err
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("WORKERS must be >= 0, got %d", c.Pipeline.Workers)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be >= 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Multiplier < 1.0 {
		return fmt.Errorf("RETRY_MULTIPLIER must be >= 1.0, got %v", c.Retry.Multiplier)
	}
	switch strings.ToLower(c.Storage.Platform) {
	case "default", "aws", "gcp", "azure":
	default:
		return fmt.Errorf("FILE_HELPER_PLATFORM must be one of default, aws, gcp, azure; got %q", c.Storage.Platform)
	}
	return nil
}
