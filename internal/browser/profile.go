package browser

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/network"
	"github.com/youtube/cobalt-sub008/internal/prefetch"
	"github.com/youtube/cobalt-sub008/internal/shared/id"
	"github.com/youtube/cobalt-sub008/internal/uithread"
)

// Profile is one browsing profile.
type Profile struct {
	id     id.ProfileID
	name   string
	looper *uithread.Looper
	log    *zap.Logger

	headers  *headers.Store
	client   *network.Client
	prefetch *prefetch.Manager

	mu       sync.Mutex
	contents map[id.ContentsID]*Contents
}

func newProfile(c *Context, name string, seed []headers.SeedRule) (*Profile, error) {
	store := headers.NewStore()
	if len(seed) > 0 {
		if err := store.ApplySeed(seed); err != nil {
			return nil, err
		}
	}

	log := c.log.With(zap.String("profile", name))
	netOpts := c.opts.Network
	netOpts.Logger = log.Named("network")
	client := network.NewClient(store, netOpts)

	prefetchOpts := []prefetch.Option{
		prefetch.WithLogger(log.Named("prefetch")),
		prefetch.WithConfig(c.opts.Prefetch),
	}
	if c.opts.Metrics != nil {
		prefetchOpts = append(prefetchOpts, prefetch.WithRecorder(c.opts.Metrics))
	}

	return &Profile{
		id:       id.NewProfileID(),
		name:     name,
		looper:   c.looper,
		log:      log,
		headers:  store,
		client:   client,
		prefetch: prefetch.NewManager(c.looper, network.NewPrefetchFetcher(client), prefetchOpts...),
		contents: make(map[id.ContentsID]*Contents),
	}, nil
}

// ID returns the profile's unique ID.
func (p *Profile) ID() id.ProfileID { return p.id }

// Name returns the name the profile was created with.
func (p *Profile) Name() string { return p.name }

// Headers returns the origin-matched header store.
func (p *Profile) Headers() *headers.Store { return p.headers }

// Prefetch returns the profile's prefetch manager.
func (p *Profile) Prefetch() *prefetch.Manager { return p.prefetch }

// Client returns the profile's network client.
func (p *Profile) Client() *network.Client { return p.client }

// NewContents creates contents on the looper and drains this profile's
// prefetch backlog before returning.
func (p *Profile) NewContents(ctx context.Context) (*Contents, error) {
	var c *Contents
	err := p.looper.PostAndWait(ctx, func(lctx context.Context) {
		c = newContents(p)
		p.mu.Lock()
		p.contents[c.id] = c
		p.mu.Unlock()

		// Runs inline: lctx belongs to the looper.
		if err := p.prefetch.Drain(lctx); err != nil {
			p.log.Warn("Prefetch drain failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("Created contents", zap.String("contents", string(c.id)))
	return c, nil
}

// Contents returns live contents by ID.
func (p *Profile) Contents(cid id.ContentsID) (*Contents, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contents[cid]
	return c, ok
}

// AllContents returns the live contents sorted by ID.
func (p *Profile) AllContents() []*Contents {
	p.mu.Lock()
	out := make([]*Contents, 0, len(p.contents))
	for _, c := range p.contents {
		out = append(out, c)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (p *Profile) removeContents(cid id.ContentsID) {
	p.mu.Lock()
	delete(p.contents, cid)
	p.mu.Unlock()
}

func (p *Profile) close() {
	p.prefetch.Close()
	p.mu.Lock()
	for cid, c := range p.contents {
		c.markDestroyed()
		delete(p.contents, cid)
	}
	p.mu.Unlock()
}
