package network

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/prefetch"
)

func TestPrefetchFetcherMarksRequests(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<p>warm</p>"))
	})

	fetcher := NewPrefetchFetcher(NewClient(headers.NewStore(), testOptions()))
	fixed := time.Unix(1700000000, 0)
	fetcher.now = func() time.Time { return fixed }

	resp, err := fetcher.Fetch(context.Background(), prefetch.FetchRequest{
		Key:    1,
		URL:    srv.URL + "/next",
		Header: http.Header{"X-Hint": {"a"}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.MIMEType)
	assert.Equal(t, "<p>warm</p>", string(resp.Body))
	assert.Equal(t, fixed, resp.FetchedAt)

	reqs := srv.Seen()
	require.Len(t, reqs, 1)
	assert.True(t, prefetch.IsPrefetchRequest(reqs[0].header))
	assert.Equal(t, "a", reqs[0].header.Get("X-Hint"))
}

func TestPrefetchFetcherReportsStartFailure(t *testing.T) {
	bad := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	opts := testOptions()
	opts.BreakerFailures = 1
	opts.BreakerTimeout = time.Hour
	fetcher := NewPrefetchFetcher(NewClient(headers.NewStore(), opts))
	ctx := context.Background()

	resp, err := fetcher.Fetch(ctx, prefetch.FetchRequest{URL: bad.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, err = fetcher.Fetch(ctx, prefetch.FetchRequest{URL: bad.URL})
	assert.ErrorIs(t, err, prefetch.ErrStartFailed)
	assert.ErrorIs(t, err, ErrOriginUnavailable)
}
