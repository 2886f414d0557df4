package network

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedScheme   = errors.New("unsupported URL scheme")
	ErrOriginUnavailable   = errors.New("origin unavailable: circuit breaker open")
	ErrRateLimited         = errors.New("rate limit wait failed")
	ErrBodyTooLarge        = errors.New("response body exceeds limit")
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	ErrCrossOrigin         = errors.New("cross-origin request in same-origin mode")
)

// errServerStatus marks 5xx responses as breaker failures. It never leaves
// the package.
var errServerStatus = errors.New("server error status")

// CORSError is returned when a preflight or the CORS response check fails.
type CORSError struct {
	URL    string
	Reason string
}

func (e *CORSError) Error() string {
	return fmt.Sprintf("CORS check failed for %s: %s", e.URL, e.Reason)
}
