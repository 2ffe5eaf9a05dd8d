// Package config provides configuration management for the crawler.
// It defines the tunables of the render engine, the spider and the
// ambient services, with defaults matching a local Splash backend.
package config

import "time"

// Config holds the full crawler configuration.
type Config struct {
	// Render backend
	BackendURL     string        `mapstructure:"backend_url" yaml:"backend_url"`         // base URL of the rendering backend
	RenderTimeout  time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`   // backend-side render budget
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP round-trip timeout
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // per-host politeness delay
	MaxInFlight    int64         `mapstructure:"max_in_flight" yaml:"max_in_flight"`     // cap on concurrent render calls
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header

	// Retry policy
	ColdRestartDelay time.Duration `mapstructure:"cold_restart_delay" yaml:"cold_restart_delay"` // backoff after the first transient failure
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`               // backoff for subsequent retries
	RetryBudget      int           `mapstructure:"retry_budget" yaml:"retry_budget"`             // retries before backend-unavailable

	// Crawl orchestration
	DomainTimeout         time.Duration `mapstructure:"domain_timeout" yaml:"domain_timeout"`                   // wall-clock budget per domain
	MaxConnectionFailures int           `mapstructure:"max_connection_failures" yaml:"max_connection_failures"` // circuit breaker threshold
	PollInterval          time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`                     // frontier poll bound
	ShutdownGrace         time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`                   // worker drain budget

	// Content
	AcceptedLanguages []string `mapstructure:"accepted_languages" yaml:"accepted_languages"` // BCP 47 tags; empty accepts all

	// Persistence and observability
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // path to the SQLite database file
	MetricsAddr  string `mapstructure:"metrics_addr" yaml:"metrics_addr"`   // Prometheus listen address; empty disables
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	LogFile      string `mapstructure:"log_file" yaml:"log_file"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		BackendURL:            "http://localhost:8050",
		RenderTimeout:         90 * time.Second,
		RequestTimeout:        5 * time.Minute,
		RequestDelay:          100 * time.Millisecond,
		MaxInFlight:           64,
		UserAgent:             "WordSpider/1.0",
		ColdRestartDelay:      6 * time.Second,
		RetryDelay:            500 * time.Millisecond,
		RetryBudget:           5,
		DomainTimeout:         100 * time.Second,
		MaxConnectionFailures: 10,
		PollInterval:          500 * time.Millisecond,
		ShutdownGrace:         10 * time.Second,
		DatabasePath:          "./wordspider.db",
		LogLevel:              "info",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return ErrEmptyBackendURL
	}
	if c.RetryBudget < 0 {
		return ErrInvalidRetryBudget
	}
	if c.DomainTimeout <= 0 {
		return ErrInvalidDomainTimeout
	}
	if c.MaxConnectionFailures <= 0 {
		return ErrInvalidFailureThreshold
	}
	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}
	// Enforce a floor so the crawl loop never spins hot
	if c.PollInterval < 10*time.Millisecond {
		c.PollInterval = 10 * time.Millisecond
	}
	return nil
}
