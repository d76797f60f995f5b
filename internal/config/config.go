// Package config loads and validates analyser configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/complyscan/site-analyser/internal/analysis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cert      CertConfig      `mapstructure:"cert"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Results   ResultsConfig   `mapstructure:"results"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BatchConfig governs batch fan-out behavior.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// RetryConfig configures per-stage retry behavior.
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	DelaySeconds      float64 `mapstructure:"delay_seconds"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// FetcherConfig configures the plain HTTP fetcher.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxParallel       int  `mapstructure:"max_parallel"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	CaptureScreenshot bool `mapstructure:"capture_screenshot"`
	ScreenshotQuality int  `mapstructure:"screenshot_quality"`
}

// RateLimitConfig bounds outbound request rates per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CertConfig configures the certificate validator.
type CertConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StorageConfig selects and configures the blob backend for screenshots.
type StorageConfig struct {
	// Backend is one of "local", "memory" or "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ResultsConfig selects and configures the result store backend.
type ResultsConfig struct {
	// Backend is one of "fs", "memory" or "postgres".
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for batch completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use the
// ANALYSER prefix with underscores, e.g. ANALYSER_BATCH_CONCURRENCY.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ANALYSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay_seconds", 2.0)
	v.SetDefault("retry.backoff_multiplier", 1.0)
	v.SetDefault("fetcher.user_agent", "site-analyser/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.capture_screenshot", false)
	v.SetDefault("headless.screenshot_quality", 90)
	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("cert.timeout_seconds", 10)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "screenshots")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("results.backend", "fs")
	v.SetDefault("results.dir", "results")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "local", "memory", "gcs":
	default:
		return fmt.Errorf("storage.backend must be local, memory or gcs, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
	}
	switch c.Results.Backend {
	case "fs", "memory", "postgres":
	default:
		return fmt.Errorf("results.backend must be fs, memory or postgres, got %q", c.Results.Backend)
	}
	if c.Results.Backend == "postgres" && c.Results.DSN == "" {
		return fmt.Errorf("results.dsn must be set when results.backend is postgres")
	}
	return nil
}

// RetryPolicy converts the retry knobs into the stage policy.
func (c Config) RetryPolicy() analysis.RetryPolicy {
	return analysis.RetryPolicy{
		MaxAttempts:       c.Retry.MaxAttempts,
		Delay:             time.Duration(c.Retry.DelaySeconds * float64(time.Second)),
		BackoffMultiplier: c.Retry.BackoffMultiplier,
	}
}

// FetchTimeout returns the plain fetcher timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// CertTimeout returns the certificate dial timeout as a duration.
func (c Config) CertTimeout() time.Duration {
	return time.Duration(c.Cert.TimeoutSeconds) * time.Second
}
