package network

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/origin"
)

type seen struct {
	method string
	path   string
	header http.Header
}

type server struct {
	*httptest.Server
	mu   sync.Mutex
	reqs []seen
}

func newServer(t *testing.T, handler http.HandlerFunc) *server {
	t.Helper()
	s := &server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.reqs = append(s.reqs, seen{method: r.Method, path: r.URL.Path, header: r.Header.Clone()})
		s.mu.Unlock()
		if handler != nil {
			handler(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) Seen() []seen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seen(nil), s.reqs...)
}

func (s *server) Origin(t *testing.T) origin.Origin {
	t.Helper()
	o, err := origin.Parse(s.URL)
	require.NoError(t, err)
	return o
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = 5 * time.Second
	opts.Retries = 0
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 5 * time.Millisecond
	opts.RequestsPerSecond = 0
	return opts
}

func TestDoAttachesOriginMatchedHeaders(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("hello"))
	})

	store := headers.NewStore()
	require.NoError(t, store.Add("X-Embedder", "on", []string{srv.URL}))
	client := NewClient(store, testOptions())

	resp, err := client.Do(context.Background(), Request{URL: srv.URL + "/page", Initiator: InitiatorNavigation})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, "text/plain", resp.MIMEType)
	assert.Equal(t, InitiatorNavigation, resp.Initiator)

	reqs := srv.Seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "on", reqs[0].header.Get("X-Embedder"))
	assert.Equal(t, "cobalt-host/1.0", reqs[0].header.Get("User-Agent"))
}

func TestCallerHeadersAreNotOverridden(t *testing.T) {
	srv := newServer(t, nil)

	store := headers.NewStore()
	require.NoError(t, store.Add("X-Embedder", "injected", []string{srv.URL}))
	client := NewClient(store, testOptions())

	_, err := client.Do(context.Background(), Request{
		URL:       srv.URL,
		Header:    http.Header{"x-embedder": {"from-script"}},
		Initiator: InitiatorFetch,
	})
	require.NoError(t, err)

	reqs := srv.Seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"from-script"}, reqs[0].header.Values("X-Embedder"))
}

func TestRedirectHopsAreScopedPerOrigin(t *testing.T) {
	var a, b *server
	a = newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, b.URL+"/hop", http.StatusFound)
		}
	})
	b = newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, a.URL+"/end", http.StatusFound)
	})

	store := headers.NewStore()
	require.NoError(t, store.Add("X-Only-A", "1", []string{a.URL}))
	client := NewClient(store, testOptions())

	resp, err := client.Do(context.Background(), Request{URL: a.URL + "/start", Initiator: InitiatorNavigation})
	require.NoError(t, err)
	assert.Equal(t, a.URL+"/end", resp.URL)

	aReqs := a.Seen()
	require.Len(t, aReqs, 2)
	assert.Equal(t, "1", aReqs[0].header.Get("X-Only-A"))
	assert.Equal(t, "/end", aReqs[1].path)
	assert.Equal(t, "1", aReqs[1].header.Get("X-Only-A"))

	bReqs := b.Seen()
	require.Len(t, bReqs, 1)
	assert.Empty(t, bReqs[0].header.Get("X-Only-A"))
}

func TestDecodesCompressedBodies(t *testing.T) {
	const plain = "<html><body>compressed payload</body></html>"

	encoders := map[string]func(*bytes.Buffer) ([]byte, error){
		"gzip": func(buf *bytes.Buffer) ([]byte, error) {
			w := gzip.NewWriter(buf)
			if _, err := w.Write([]byte(plain)); err != nil {
				return nil, err
			}
			err := w.Close()
			return buf.Bytes(), err
		},
		"deflate": func(buf *bytes.Buffer) ([]byte, error) {
			w := zlib.NewWriter(buf)
			if _, err := w.Write([]byte(plain)); err != nil {
				return nil, err
			}
			err := w.Close()
			return buf.Bytes(), err
		},
		"zstd": func(buf *bytes.Buffer) ([]byte, error) {
			w, err := zstd.NewWriter(buf)
			if err != nil {
				return nil, err
			}
			if _, err := w.Write([]byte(plain)); err != nil {
				return nil, err
			}
			err = w.Close()
			return buf.Bytes(), err
		},
	}

	for encoding, encode := range encoders {
		t.Run(encoding, func(t *testing.T) {
			payload, err := encode(&bytes.Buffer{})
			require.NoError(t, err)

			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header()["Content-Type"] = nil
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(payload)
			})

			client := NewClient(headers.NewStore(), testOptions())
			resp, err := client.Do(context.Background(), Request{URL: srv.URL})
			require.NoError(t, err)

			assert.Equal(t, plain, string(resp.Body))
			assert.Equal(t, "text/html", resp.MIMEType)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Contains(t, srv.Seen()[0].header.Get("Accept-Encoding"), encoding)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	})

	opts := testOptions()
	opts.MaxBodyBytes = 10
	client := NewClient(headers.NewStore(), opts)

	_, err := client.Do(context.Background(), Request{URL: srv.URL})
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestUnsupportedScheme(t *testing.T) {
	client := NewClient(headers.NewStore(), testOptions())
	_, err := client.Do(context.Background(), Request{URL: "ftp://example.com/file"})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	opts := testOptions()
	opts.Retries = 2
	client := NewClient(headers.NewStore(), opts)

	resp, err := client.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBreakerIsPerOrigin(t *testing.T) {
	bad := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	good := newServer(t, nil)

	opts := testOptions()
	opts.BreakerFailures = 2
	opts.BreakerTimeout = time.Hour
	client := NewClient(headers.NewStore(), opts)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := client.Do(ctx, Request{URL: bad.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	}

	_, err := client.Do(ctx, Request{URL: bad.URL})
	assert.ErrorIs(t, err, ErrOriginUnavailable)
	assert.Len(t, bad.Seen(), 2)

	resp, err := client.Do(ctx, Request{URL: good.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	states := client.BreakerStates()
	assert.Equal(t, "open", states[bad.Origin(t).String()].String())
	assert.Equal(t, "closed", states[good.Origin(t).String()].String())
}

func TestSameOriginMode(t *testing.T) {
	srv := newServer(t, nil)
	client := NewClient(headers.NewStore(), testOptions())

	_, err := client.Do(context.Background(), Request{
		URL:    srv.URL,
		Mode:   ModeSameOrigin,
		Origin: origin.MustParse("https://elsewhere.test"),
	})
	assert.ErrorIs(t, err, ErrCrossOrigin)
	assert.Empty(t, srv.Seen())
}

func TestInitiatorContext(t *testing.T) {
	_, ok := InitiatorFromContext(context.Background())
	assert.False(t, ok)

	i, ok := InitiatorFromContext(WithInitiator(context.Background(), InitiatorServiceWorker))
	assert.True(t, ok)
	assert.Equal(t, InitiatorServiceWorker, i)
	assert.Equal(t, "service_worker", i.String())
}
