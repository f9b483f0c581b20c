// Package config loads runtime settings from FLOWLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"flowledger.org/internal/ledger"
)

// Prefix applied to every variable, e.g. FLOWLEDGER_APP_ADDR.
const Prefix = "FLOWLEDGER"

// Config holds runtime configuration for the api, worker and migrate binaries.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR" default:":9090"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Empty PGDSN runs on the in-memory store.
	PGDSN         string `envconfig:"PG_DSN"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR"`

	// Empty RedisAddr uses process-local locks and disables the worker.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"10s"`

	StorageTimeout time.Duration `envconfig:"STORAGE_TIMEOUT" default:"5s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoff   time.Duration `envconfig:"RETRY_BACKOFF" default:"20ms"`

	RateBurst   int     `envconfig:"RATE_BURST" default:"100"`
	RatePerSec  float64 `envconfig:"RATE_PER_SEC" default:"50"`
	CORSOrigins string  `envconfig:"CORS_ORIGINS" default:"*"`

	ReconcileCron string `envconfig:"RECONCILE_CRON" default:"@every 1h"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must be >= 0"))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, errors.New("RETRY_BACKOFF must be >= 0"))
	}
	if c.RatePerSec < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("RATE_PER_SEC and RATE_BURST must be >= 0"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or console", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Ledger returns the coordinator settings.
func (c *Config) Ledger() ledger.Config {
	return ledger.Config{
		StorageTimeout: c.StorageTimeout,
		MaxRetries:     c.MaxRetries,
		RetryBackoff:   c.RetryBackoff,
	}
}

// Origins splits CORS_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
