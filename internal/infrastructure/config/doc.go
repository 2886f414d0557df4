// Package config provides 12-factor configuration management for the
// browser host.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: control API listen address
//   - Prefetch: initial prefetch cache TTL and capacity
//   - Fetch: outgoing network client timeouts, retries and pacing
//   - Headers: optional origin-matched header seed file
//   - Logging: log level and output format
//   - RateLimit: per-client control API rate limiting
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Listening on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - PORT, HOST
//   - PREFETCH_ENABLED, PREFETCH_TTL_SECONDS, PREFETCH_MAX
//   - FETCH_TIMEOUT, FETCH_RETRIES, FETCH_RPS, FETCH_BURST, FETCH_USER_AGENT
//   - HEADERS_FILE
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
