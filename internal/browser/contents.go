package browser

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/network"
	"github.com/youtube/cobalt-sub008/internal/origin"
	"github.com/youtube/cobalt-sub008/internal/shared/id"
)

// ErrContentsDestroyed is returned by operations on destroyed contents.
var ErrContentsDestroyed = errors.New("contents destroyed")

// Navigation is a committed top-level load.
type Navigation struct {
	ID           id.NavigationID `json:"id"`
	URL          string          `json:"url"`
	StatusCode   int             `json:"status_code"`
	MIMEType     string          `json:"mime_type"`
	FromPrefetch bool            `json:"from_prefetch"`
	Body         []byte          `json:"-"`
	CommittedAt  time.Time       `json:"committed_at"`
}

// Contents is one tab. It navigates and issues the requests its document
// makes.
type Contents struct {
	id      id.ContentsID
	profile *Profile

	mu        sync.Mutex
	current   *Navigation
	destroyed bool
}

func newContents(p *Profile) *Contents {
	return &Contents{id: id.NewContentsID(), profile: p}
}

// ID returns the contents ID.
func (c *Contents) ID() id.ContentsID { return c.id }

// Profile returns the owning profile.
func (c *Contents) Profile() *Profile { return c.profile }

// LoadURL drains the profile's prefetch queue, then commits rawURL. A
// matching completed prefetch is used when the caller supplies no extra
// headers; otherwise the page is fetched.
func (c *Contents) LoadURL(ctx context.Context, rawURL string, extra http.Header) (*Navigation, error) {
	if c.isDestroyed() {
		return nil, ErrContentsDestroyed
	}
	pm := c.profile.prefetch
	if err := pm.Drain(ctx); err != nil {
		return nil, err
	}

	nav := &Navigation{ID: id.NewNavigationID()}
	if len(extra) == 0 {
		if resp, ok := pm.Lookup(rawURL); ok {
			nav.URL = resp.URL
			nav.StatusCode = resp.StatusCode
			nav.MIMEType = resp.MIMEType
			nav.Body = resp.Body
			nav.FromPrefetch = true
		}
	}

	if !nav.FromPrefetch {
		resp, err := c.profile.client.Do(ctx, network.Request{
			Method:    http.MethodGet,
			URL:       rawURL,
			Header:    extra,
			Initiator: network.InitiatorNavigation,
		})
		if err != nil {
			return nil, err
		}
		nav.URL = resp.URL
		nav.StatusCode = resp.StatusCode
		nav.MIMEType = resp.MIMEType
		nav.Body = resp.Body
	}
	nav.CommittedAt = time.Now()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrContentsDestroyed
	}
	c.current = nav
	c.mu.Unlock()

	c.profile.log.Debug("Committed navigation",
		zap.String("contents", string(c.id)),
		zap.String("url", nav.URL),
		zap.Bool("from_prefetch", nav.FromPrefetch))
	return nav, nil
}

// Current returns the last committed navigation.
func (c *Contents) Current() (*Navigation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Fetch performs a script fetch() from the current document. Mode defaults
// to CORS.
func (c *Contents) Fetch(ctx context.Context, req network.Request) (*network.Response, error) {
	if req.Mode == network.ModeNoCORS {
		req.Mode = network.ModeCORS
	}
	return c.issue(ctx, req, network.InitiatorFetch)
}

// LoadSubresource loads an image, script or stylesheet for the current
// document.
func (c *Contents) LoadSubresource(ctx context.Context, rawURL string) (*network.Response, error) {
	return c.issue(ctx, network.Request{Method: http.MethodGet, URL: rawURL}, network.InitiatorSubresource)
}

// ServiceWorkerFetch performs a fetch on behalf of the document's service
// worker.
func (c *Contents) ServiceWorkerFetch(ctx context.Context, req network.Request) (*network.Response, error) {
	if req.Mode == network.ModeNoCORS {
		req.Mode = network.ModeCORS
	}
	return c.issue(ctx, req, network.InitiatorServiceWorker)
}

func (c *Contents) issue(ctx context.Context, req network.Request, initiator network.Initiator) (*network.Response, error) {
	if c.isDestroyed() {
		return nil, ErrContentsDestroyed
	}
	req.Initiator = initiator
	if req.Origin.IsZero() {
		req.Origin = c.documentOrigin()
	}
	return c.profile.client.Do(ctx, req)
}

func (c *Contents) documentOrigin() origin.Origin {
	nav, ok := c.Current()
	if !ok {
		return origin.Origin{}
	}
	o, err := origin.Parse(nav.URL)
	if err != nil {
		return origin.Origin{}
	}
	return o
}

// Destroy detaches the contents from its profile.
func (c *Contents) Destroy() {
	c.markDestroyed()
	c.profile.removeContents(c.id)
}

func (c *Contents) markDestroyed() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
}

func (c *Contents) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
