package network

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/origin"
)

func TestNeedsPreflight(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		header    http.Header
		want      bool
		wantNames []string
	}{
		{name: "simple get", method: http.MethodGet, header: http.Header{"Accept": {"text/html"}}},
		{name: "form post", method: http.MethodPost, header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}},
		{
			name:      "json post",
			method:    http.MethodPost,
			header:    http.Header{"Content-Type": {"application/json"}},
			want:      true,
			wantNames: []string{"content-type"},
		},
		{name: "put", method: http.MethodPut, header: http.Header{}, want: true},
		{
			name:      "custom headers sorted and lowered",
			method:    http.MethodGet,
			header:    http.Header{"X-Zeta": {"1"}, "X-Alpha": {"2"}, "Accept-Language": {"en"}},
			want:      true,
			wantNames: []string{"x-alpha", "x-zeta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, names := needsPreflight(tt.method, tt.header)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestCORSPreflightWithholdsUnrequestedHeaders(t *testing.T) {
	page := origin.MustParse("https://app.example")
	api := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", page.String())
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "X-Custom")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	store := headers.NewStore()
	require.NoError(t, store.Add("X-Injected", "yes", []string{api.URL}))
	client := NewClient(store, testOptions())

	resp, err := client.Do(context.Background(), Request{
		URL:       api.URL + "/data",
		Header:    http.Header{"X-Custom": {"1"}},
		Initiator: InitiatorFetch,
		Mode:      ModeCORS,
		Origin:    page,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))

	reqs := api.Seen()
	require.Len(t, reqs, 2)

	pre := reqs[0]
	assert.Equal(t, http.MethodOptions, pre.method)
	assert.Equal(t, "x-custom", pre.header.Get("Access-Control-Request-Headers"))
	assert.Equal(t, http.MethodGet, pre.header.Get("Access-Control-Request-Method"))
	assert.Equal(t, page.String(), pre.header.Get("Origin"))
	assert.Empty(t, pre.header.Get("X-Injected"))

	actual := reqs[1]
	assert.Equal(t, http.MethodGet, actual.method)
	assert.Equal(t, "1", actual.header.Get("X-Custom"))
	assert.Equal(t, "yes", actual.header.Get("X-Injected"))
	assert.Equal(t, page.String(), actual.header.Get("Origin"))
}

func TestCORSPreflightRejected(t *testing.T) {
	api := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusForbidden)
		}
	})
	client := NewClient(headers.NewStore(), testOptions())

	_, err := client.Do(context.Background(), Request{
		URL:    api.URL,
		Header: http.Header{"X-Custom": {"1"}},
		Mode:   ModeCORS,
		Origin: origin.MustParse("https://app.example"),
	})

	var cerr *CORSError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Reason, "preflight")
	require.Len(t, api.Seen(), 1)
	assert.Equal(t, http.MethodOptions, api.Seen()[0].method)
}

func TestCORSResponseWithoutAllowOrigin(t *testing.T) {
	api := newServer(t, nil)
	client := NewClient(headers.NewStore(), testOptions())

	// Simple request: no preflight, but the response check still applies.
	_, err := client.Do(context.Background(), Request{
		URL:    api.URL,
		Mode:   ModeCORS,
		Origin: origin.MustParse("https://app.example"),
	})

	var cerr *CORSError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "missing Access-Control-Allow-Origin", cerr.Reason)
	assert.Len(t, api.Seen(), 1)
}

func TestSameOriginCORSSkipsChecks(t *testing.T) {
	api := newServer(t, nil)
	client := NewClient(headers.NewStore(), testOptions())

	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPut,
		URL:    api.URL,
		Header: http.Header{"X-Custom": {"1"}},
		Mode:   ModeCORS,
		Origin: api.Origin(t),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, api.Seen(), 1)
}
