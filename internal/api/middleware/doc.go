// Package middleware holds the gin middleware used by the control API:
// CORS for embedder UIs and per-client or global rate limiting.
package middleware
