package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Prefetch  PrefetchConfig
	Fetch     FetchConfig
	Headers   HeadersConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// PrefetchConfig holds the initial prefetch cache configuration applied to
// every profile.
type PrefetchConfig struct {
	Enabled       bool `envconfig:"PREFETCH_ENABLED" default:"true"`
	TTLSeconds    int  `envconfig:"PREFETCH_TTL_SECONDS" default:"60"`
	MaxPrefetches int  `envconfig:"PREFETCH_MAX" default:"10"`
}

// FetchConfig holds outgoing network client configuration.
type FetchConfig struct {
	Timeout           time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	Retries           int           `envconfig:"FETCH_RETRIES" default:"2"`
	RequestsPerSecond float64       `envconfig:"FETCH_RPS" default:"50"`
	Burst             int           `envconfig:"FETCH_BURST" default:"100"`
	UserAgent         string        `envconfig:"FETCH_USER_AGENT" default:"cobalt-host/1.0"`
}

// HeadersConfig points at an optional seed file of origin-matched header
// rules loaded into the default profile at startup.
type HeadersConfig struct {
	File string `envconfig:"HEADERS_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig lists the embedder UI origins allowed to call the control API.
// Empty allows any origin.
type CORSConfig struct {
	AllowOrigins []string `envconfig:"CORS_ORIGINS"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Prefetch: PrefetchConfig{
			Enabled:       true,
			TTLSeconds:    60,
			MaxPrefetches: 10,
		},
		Fetch: FetchConfig{
			Timeout:           30 * time.Second,
			Retries:           2,
			RequestsPerSecond: 50,
			Burst:             100,
			UserAgent:         "cobalt-host/1.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects values the host cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Prefetch.TTLSeconds <= 0 {
		errs = append(errs, errors.New("PREFETCH_TTL_SECONDS must be positive"))
	}
	if c.Prefetch.MaxPrefetches <= 0 {
		errs = append(errs, errors.New("PREFETCH_MAX must be positive"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, errors.New("FETCH_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
