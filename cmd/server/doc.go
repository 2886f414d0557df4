// Package main is the entry point for the embedded browser host.
//
// The host owns one browser context with named profiles. Each profile has
// an origin-scoped header store and a prefetch queue, and both are driven
// through a JSON control API.
//
// Architecture:
//
//	Embedder UI → control API (gin) → browser context → profiles
//	                                                  → network client → origins
//
// The server provides:
//   - REST API for profiles, header rules, prefetches and contents
//   - WebSocket stream of prefetch events
//   - Prometheus metrics on /metrics
//   - Rate limiting and CORS for the control API
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -headers /etc/host/headers.yaml
//
//	# Development mode (console logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
