package network

import (
	"context"
	"net/http"
	"time"

	"github.com/youtube/cobalt-sub008/internal/origin"
)

// Initiator says which part of the engine issued a request.
type Initiator int

const (
	InitiatorNavigation Initiator = iota
	InitiatorSubresource
	InitiatorFetch
	InitiatorServiceWorker
	InitiatorPrefetch
)

func (i Initiator) String() string {
	switch i {
	case InitiatorNavigation:
		return "navigation"
	case InitiatorSubresource:
		return "subresource"
	case InitiatorFetch:
		return "fetch"
	case InitiatorServiceWorker:
		return "service_worker"
	case InitiatorPrefetch:
		return "prefetch"
	default:
		return "unknown"
	}
}

// Mode is the request mode of a script-visible fetch.
type Mode int

const (
	// ModeNoCORS sends the request as is. Navigations, sub-resources and
	// prefetches use it.
	ModeNoCORS Mode = iota
	// ModeCORS preflights cross-origin requests that carry non-safelisted
	// headers or methods, and checks Access-Control-Allow-Origin on the
	// response.
	ModeCORS
	// ModeSameOrigin rejects cross-origin targets.
	ModeSameOrigin
)

// Request is one outgoing request.
type Request struct {
	Method string
	URL    string
	// Header holds headers set by the caller. They are never overridden by
	// origin-matched headers.
	Header http.Header
	Body   []byte

	Initiator Initiator
	Mode      Mode
	// Origin is the initiating document's origin. Zero for requests the
	// browser makes on its own behalf.
	Origin origin.Origin
}

// Response is a fully read response.
type Response struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	MIMEType   string
	Initiator  Initiator
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

type initiatorKey struct{}

// WithInitiator records the initiator on ctx.
func WithInitiator(ctx context.Context, i Initiator) context.Context {
	return context.WithValue(ctx, initiatorKey{}, i)
}

// InitiatorFromContext returns the initiator recorded on ctx, if any.
func InitiatorFromContext(ctx context.Context) (Initiator, bool) {
	i, ok := ctx.Value(initiatorKey{}).(Initiator)
	return i, ok
}
