package headers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/origin"
)

// Recorder receives attachment telemetry.
type Recorder interface {
	// HeaderAttached is called once per request for every configured header
	// whose patterns match the request origin.
	HeaderAttached(name string, attached bool)
	// PreflightTargeted is called when a matching header is withheld from a
	// CORS preflight because it was not requested.
	PreflightTargeted(name string)
}

type nopRecorder struct{}

func (nopRecorder) HeaderAttached(string, bool) {}
func (nopRecorder) PreflightTargeted(string)    {}

// Transport attaches origin-matched headers to outgoing requests.
//
// http.Client invokes the transport once per redirect hop with a request
// rebuilt from the original caller headers, so attachment is recomputed
// against each hop's origin and injected values never leak to the next hop.
type Transport struct {
	store    *Store
	base     http.RoundTripper
	recorder Recorder
	log      *zap.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) TransportOption {
	return func(t *Transport) {
		if r != nil {
			t.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) TransportOption {
	return func(t *Transport) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTransport wraps base. A nil base uses a fresh http.Transport so the
// process-wide default is never shared.
func NewTransport(store *Store, base http.RoundTripper, opts ...TransportOption) *Transport {
	if base == nil {
		base = &http.Transport{}
	}
	t := &Transport{
		store:    store,
		base:     base,
		recorder: nopRecorder{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(t.Apply(req))
}

// Apply returns req with matching headers attached. req itself is never
// modified; a clone is returned when anything was added.
func (t *Transport) Apply(req *http.Request) *http.Request {
	o, err := origin.FromURL(req.URL)
	if err != nil {
		// Opaque origins (data:, about:) never match.
		return req
	}

	matches := t.store.Match(o)
	if len(matches) == 0 {
		return req
	}

	var requested map[string]bool
	preflight := IsPreflight(req)
	if preflight {
		requested = requestedHeaders(req.Header)
	}

	out := req
	for _, h := range matches {
		if HasHeader(req.Header, h.Name) {
			t.recorder.HeaderAttached(h.Name, false)
			continue
		}
		if preflight && !requested[strings.ToLower(h.Name)] {
			t.recorder.PreflightTargeted(h.Name)
			t.recorder.HeaderAttached(h.Name, false)
			continue
		}
		if out == req {
			out = req.Clone(req.Context())
			if out.Header == nil {
				out.Header = make(http.Header)
			}
		}
		// Direct map assignment keeps the configured casing on the wire.
		out.Header[h.Name] = []string{h.Value}
		t.recorder.HeaderAttached(h.Name, true)
	}

	if out != req {
		t.log.Debug("Attached origin-matched headers",
			zap.String("origin", o.String()),
			zap.String("method", req.Method),
			zap.Int("matched", len(matches)))
	}
	return out
}

// IsPreflight reports whether req is a CORS preflight.
func IsPreflight(req *http.Request) bool {
	return req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != ""
}

// HasHeader reports whether h carries name under any casing. Keys stored
// without canonicalization are found as well.
func HasHeader(h http.Header, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func requestedHeaders(h http.Header) map[string]bool {
	out := make(map[string]bool)
	for _, line := range h.Values("Access-Control-Request-Headers") {
		for _, name := range strings.Split(line, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out[strings.ToLower(name)] = true
			}
		}
	}
	return out
}
