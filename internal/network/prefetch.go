package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/youtube/cobalt-sub008/internal/prefetch"
)

// PrefetchFetcher issues prefetches through a Client.
type PrefetchFetcher struct {
	client *Client
	now    func() time.Time
}

// NewPrefetchFetcher adapts client to prefetch.Fetcher.
func NewPrefetchFetcher(client *Client) *PrefetchFetcher {
	return &PrefetchFetcher{client: client, now: time.Now}
}

// Fetch implements prefetch.Fetcher. Requests that never reach the network
// are reported as prefetch.ErrStartFailed.
func (f *PrefetchFetcher) Fetch(ctx context.Context, req prefetch.FetchRequest) (*prefetch.Response, error) {
	h := req.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if !prefetch.IsPrefetchRequest(h) {
		h.Set(prefetch.SecPurposeHeader, prefetch.SecPurposePrefetch)
	}

	resp, err := f.client.Do(ctx, Request{
		Method:    http.MethodGet,
		URL:       req.URL,
		Header:    h,
		Initiator: InitiatorPrefetch,
	})
	if err != nil {
		if errors.Is(err, ErrOriginUnavailable) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnsupportedScheme) {
			return nil, fmt.Errorf("%w: %w", prefetch.ErrStartFailed, err)
		}
		return nil, err
	}

	return &prefetch.Response{
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		MIMEType:   resp.MIMEType,
		FetchedAt:  f.now(),
	}, nil
}
