// Package browser holds the process-wide browser context, its profiles and
// the contents (tabs) created in them.
//
// A Context owns the UI-affine looper and a name-keyed profile registry.
// Each profile has its own origin-matched header store, prefetch queue and
// network client, so draining one profile never touches another's backlog.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/monitoring"
	"github.com/youtube/cobalt-sub008/internal/network"
	"github.com/youtube/cobalt-sub008/internal/prefetch"
	"github.com/youtube/cobalt-sub008/internal/uithread"
)

// DefaultProfileName names the profile every process has.
const DefaultProfileName = "Default"

var (
	ErrContextClosed    = errors.New("browser context has been torn down")
	ErrEmptyProfileName = errors.New("profile name must not be empty")
)

// Options configures a Context.
type Options struct {
	Prefetch prefetch.Config
	Network  network.Options
	// DefaultHeaders seed the Default profile's header store.
	DefaultHeaders []headers.SeedRule

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Context is the process-wide browser context.
type Context struct {
	opts   Options
	log    *zap.Logger
	looper *uithread.Looper

	mu       sync.RWMutex
	profiles map[string]*Profile
	closed   bool

	group singleflight.Group
}

// New starts the looper and returns an empty context. Profiles are created
// on first use.
func New(opts Options) *Context {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Prefetch == (prefetch.Config{}) {
		opts.Prefetch = prefetch.DefaultConfig()
	}
	opts.Network.Logger = log.Named("network")
	opts.Network.Metrics = opts.Metrics

	return &Context{
		opts:     opts,
		log:      log,
		looper:   uithread.New("ui", log.Named("looper")),
		profiles: make(map[string]*Profile),
	}
}

// Looper returns the UI-affine looper.
func (c *Context) Looper() *uithread.Looper {
	return c.looper
}

// DefaultProfile returns the Default profile, creating it on first use.
func (c *Context) DefaultProfile() (*Profile, error) {
	return c.Profile(DefaultProfileName)
}

// Profile returns the profile called name, creating it on first use. Names
// are case-sensitive. Concurrent first calls for one name share a single
// construction.
func (c *Context) Profile(name string) (*Profile, error) {
	if name == "" {
		return nil, ErrEmptyProfileName
	}
	if p, ok, err := c.lookup(name); ok || err != nil {
		return p, err
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		if p, ok, err := c.lookup(name); ok || err != nil {
			return p, err
		}

		p, err := c.newProfile(name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			p.close()
			return nil, ErrContextClosed
		}
		c.profiles[name] = p
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

func (c *Context) lookup(name string) (*Profile, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrContextClosed
	}
	p, ok := c.profiles[name]
	return p, ok, nil
}

// Existing returns a profile only if it was already created.
func (c *Context) Existing(name string) (*Profile, bool) {
	p, ok, _ := c.lookup(name)
	return p, ok
}

// Profiles returns the created profiles sorted by name.
func (c *Context) Profiles() []*Profile {
	c.mu.RLock()
	out := make([]*Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (c *Context) newProfile(name string) (*Profile, error) {
	var seed []headers.SeedRule
	if name == DefaultProfileName {
		seed = c.opts.DefaultHeaders
	}
	p, err := newProfile(c, name, seed)
	if err != nil {
		return nil, fmt.Errorf("create profile %q: %w", name, err)
	}
	c.log.Info("Created profile",
		zap.String("profile", name),
		zap.String("id", string(p.id)))
	return p, nil
}

// Teardown closes every profile, stops the looper and waits for it. Tasks
// already posted still run. Later Profile calls fail with ErrContextClosed.
func (c *Context) Teardown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	profiles := make([]*Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		profiles = append(profiles, p)
	}
	c.profiles = make(map[string]*Profile)
	c.mu.Unlock()

	for _, p := range profiles {
		p.close()
	}

	c.looper.Quit()
	done := make(chan struct{})
	go func() {
		c.looper.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Info("Browser context torn down", zap.Int("profiles", len(profiles)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
