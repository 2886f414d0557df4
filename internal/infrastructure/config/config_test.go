package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())

	// Prefetch config
	assert.True(t, cfg.Prefetch.Enabled)
	assert.Equal(t, 60, cfg.Prefetch.TTLSeconds)
	assert.Equal(t, 10, cfg.Prefetch.MaxPrefetches)

	// Fetch config
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 2, cfg.Fetch.Retries)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Empty(t, cfg.Headers.File)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                 "9000",
		"HOST":                 "127.0.0.1",
		"PREFETCH_ENABLED":     "false",
		"PREFETCH_TTL_SECONDS": "120",
		"PREFETCH_MAX":         "25",
		"FETCH_TIMEOUT":        "5s",
		"FETCH_RETRIES":        "0",
		"FETCH_RPS":            "2.5",
		"HEADERS_FILE":         "/etc/host/headers.yaml",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
		"RATE_LIMIT_ENABLED":   "false",
		"CORS_ORIGINS":         "https://a.example,https://b.example",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.False(t, cfg.Prefetch.Enabled)
	assert.Equal(t, 120, cfg.Prefetch.TTLSeconds)
	assert.Equal(t, 25, cfg.Prefetch.MaxPrefetches)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 0, cfg.Fetch.Retries)
	assert.Equal(t, 2.5, cfg.Fetch.RequestsPerSecond)
	assert.Equal(t, "/etc/host/headers.yaml", cfg.Headers.File)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "non-numeric ttl", key: "PREFETCH_TTL_SECONDS", val: "soon"},
		{name: "zero ttl", key: "PREFETCH_TTL_SECONDS", val: "0"},
		{name: "negative max", key: "PREFETCH_MAX", val: "-1"},
		{name: "bad duration", key: "FETCH_TIMEOUT", val: "forever"},
		{name: "negative retries", key: "FETCH_RETRIES", val: "-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back instead of failing.
			cfg := LoadOrDefault()
			assert.Equal(t, Default().Prefetch, cfg.Prefetch)
		})
	}
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("PREFETCH_MAX", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Prefetch.MaxPrefetches)

	// Defaults still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 60, cfg.Prefetch.TTLSeconds)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
}
