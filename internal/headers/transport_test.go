package headers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu        sync.Mutex
	attached  map[string][]bool
	preflight []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{attached: make(map[string][]bool)}
}

func (r *fakeRecorder) HeaderAttached(name string, attached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[name] = append(r.attached[name], attached)
}

func (r *fakeRecorder) PreflightTargeted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preflight = append(r.preflight, name)
}

// hit records one request seen by a test server.
type hit struct {
	path  string
	extra string
}

type recordingServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits []hit
}

func newRecordingServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.hits = append(rs.hits, hit{path: r.URL.Path, extra: r.Header.Get("X-Extra")})
		rs.mu.Unlock()
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) Hits() []hit {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]hit(nil), rs.hits...)
}

func newClient(t *testing.T, s *Store, opts ...TransportOption) *http.Client {
	t.Helper()
	base := &http.Transport{}
	t.Cleanup(base.CloseIdleConnections)
	return &http.Client{Transport: NewTransport(s, base, opts...)}
}

func TestRedirectScoping(t *testing.T) {
	var a, b *recordingServer
	a = newRecordingServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/start":  func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, a.URL+"/second", http.StatusFound) },
		"/second": func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, b.URL+"/other", http.StatusFound) },
	})
	b = newRecordingServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/other": func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, a.URL+"/final", http.StatusFound) },
	})

	s := NewStore()
	require.NoError(t, s.Add("X-Extra", "scoped", []string{a.URL}))

	resp, err := newClient(t, s).Get(a.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []hit{
		{path: "/start", extra: "scoped"},
		{path: "/second", extra: "scoped"},
		{path: "/final", extra: "scoped"},
	}, a.Hits())
	assert.Equal(t, []hit{{path: "/other", extra: ""}}, b.Hits())
}

func TestHeaderAddedOnRedirectToMatchingOrigin(t *testing.T) {
	b := newRecordingServer(t, nil)
	a := newRecordingServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/start": func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, b.URL+"/landing", http.StatusFound) },
	})

	s := NewStore()
	require.NoError(t, s.Add("X-Extra", "for-b", []string{b.URL}))

	resp, err := newClient(t, s).Get(a.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []hit{{path: "/start", extra: ""}}, a.Hits())
	assert.Equal(t, []hit{{path: "/landing", extra: "for-b"}}, b.Hits())
}

func TestClearStopsApplyingMidRedirect(t *testing.T) {
	s := NewStore()
	var a *recordingServer
	a = newRecordingServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/start": func(w http.ResponseWriter, r *http.Request) {
			s.ClearAll()
			http.Redirect(w, r, a.URL+"/after", http.StatusFound)
		},
	})
	require.NoError(t, s.Set("X-Extra", "v", []string{a.URL}))

	resp, err := newClient(t, s).Get(a.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []hit{{path: "/start", extra: "v"}, {path: "/after", extra: ""}}, a.Hits())
}

func TestNeverOverridesExplicitHeader(t *testing.T) {
	a := newRecordingServer(t, nil)
	s := NewStore()
	require.NoError(t, s.Add("X-Extra", "FromStore", []string{a.URL}))
	rec := newFakeRecorder()
	client := newClient(t, s, WithRecorder(rec))

	req, err := http.NewRequest(http.MethodGet, a.URL+"/js", nil)
	require.NoError(t, err)
	req.Header.Set("X-Extra", "SetByJs")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodGet, a.URL+"/raw", nil)
	require.NoError(t, err)
	req.Header["x-extra"] = []string{"lowercase"}
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	hits := a.Hits()
	require.Len(t, hits, 2)
	assert.Equal(t, "SetByJs", hits[0].extra)
	assert.Equal(t, "lowercase", hits[1].extra)
	assert.Equal(t, []bool{false, false}, rec.attached["X-Extra"])
}

func TestRejectedUpdateKeepsPriorHeader(t *testing.T) {
	a := newRecordingServer(t, nil)
	s := NewStore()
	require.NoError(t, s.Set("X-Extra", "old", []string{a.URL}))
	require.Error(t, s.Set("X-Extra", "new", []string{a.URL, "--"}))

	resp, err := newClient(t, s).Get(a.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []hit{{path: "/", extra: "old"}}, a.Hits())
}

func TestMultipleValuesJoined(t *testing.T) {
	a := newRecordingServer(t, nil)
	s := NewStore()
	require.NoError(t, s.Add("X-Extra", "first", []string{a.URL}))
	require.NoError(t, s.Add("x-extra", "second", []string{a.URL}))
	require.NoError(t, s.Add("X-Extra", "elsewhere", []string{"https://other.test"}))

	resp, err := newClient(t, s).Get(a.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []hit{{path: "/", extra: "first,second"}}, a.Hits())
}

func TestApplyDoesNotMutateRequest(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("x-Custom", "v", []string{"https://a.test"}))
	tr := NewTransport(s, nil)

	req := httptest.NewRequest(http.MethodGet, "https://a.test/page", nil)
	out := tr.Apply(req)

	assert.NotSame(t, req, out)
	assert.Empty(t, req.Header)
	assert.Equal(t, []string{"v"}, out.Header["x-Custom"])

	other := httptest.NewRequest(http.MethodGet, "https://b.test/page", nil)
	assert.Same(t, other, tr.Apply(other))
}

func TestPreflightOnlyGetsRequestedHeaders(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Add("X-Extra", "e", []string{"https://a.test"}))
	require.NoError(t, s.Add("X-Other", "o", []string{"https://a.test"}))
	rec := newFakeRecorder()
	tr := NewTransport(s, nil, WithRecorder(rec))

	req := httptest.NewRequest(http.MethodOptions, "https://a.test/api", nil)
	req.Header.Set("Access-Control-Request-Method", "PUT")
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-extra")
	out := tr.Apply(req)

	assert.Equal(t, "e", out.Header.Get("X-Extra"))
	assert.Empty(t, out.Header.Get("X-Other"))
	assert.Equal(t, []string{"X-Other"}, rec.preflight)
	assert.Equal(t, []bool{true}, rec.attached["X-Extra"])
	assert.Equal(t, []bool{false}, rec.attached["X-Other"])

	// A plain OPTIONS request is not a preflight.
	plain := httptest.NewRequest(http.MethodOptions, "https://a.test/api", nil)
	out = tr.Apply(plain)
	assert.Equal(t, "o", out.Header.Get("X-Other"))
}
