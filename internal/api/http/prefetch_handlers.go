package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/prefetch"
)

// maxPrefetchWait bounds how long a waiting prefetch request blocks.
const maxPrefetchWait = 2 * time.Minute

// NoVarySearchRequest selects which query parameters a prefetch ignores.
// Mode is one of "all", "none", "ignore" and "except".
type NoVarySearchRequest struct {
	Mode   string   `json:"mode"`
	Params []string `json:"params"`
}

// Build converts the request into a *prefetch.NoVarySearch.
func (r *NoVarySearchRequest) Build() (*prefetch.NoVarySearch, error) {
	if r == nil {
		return nil, nil
	}
	switch r.Mode {
	case "all":
		return prefetch.IgnoreAll(), nil
	case "", "none":
		return prefetch.IgnoreNone(), nil
	case "ignore":
		return prefetch.Ignore(r.Params...), nil
	case "except":
		return prefetch.IgnoreExcept(r.Params...), nil
	default:
		return nil, fmt.Errorf("unknown no_vary_search mode %q", r.Mode)
	}
}

// PrefetchRequest queues one prefetch. With Wait set the handler blocks
// until the terminal status or WaitMS elapses.
type PrefetchRequest struct {
	URL               string               `json:"url" binding:"required"`
	Headers           map[string]string    `json:"headers"`
	NoVarySearch      *NoVarySearchRequest `json:"no_vary_search"`
	JavaScriptEnabled bool                 `json:"javascript_enabled"`
	Wait              bool                 `json:"wait"`
	WaitMS            int                  `json:"wait_ms"`
}

// PrefetchConfigRequest updates a profile's prefetch cache. TTLSeconds and
// MaxPrefetches must both be positive to take effect.
type PrefetchConfigRequest struct {
	Enabled       *bool `json:"enabled"`
	TTLSeconds    int   `json:"ttl_seconds"`
	MaxPrefetches int   `json:"max_prefetches"`
}

func resultJSON(res prefetch.Result) gin.H {
	return gin.H{"status": res.Status.String(), "extras": res.Extras}
}

// StartPrefetch queues a prefetch on the profile's manager.
func (h *Handlers) StartPrefetch(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}

	var req PrefetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	nvs, err := req.NoVarySearch.Build()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	done := make(chan prefetch.Result, 1)
	key := p.Prefetch().StartPrefetchRequest(req.URL, prefetch.Params{
		Headers:           req.Headers,
		NoVarySearch:      nvs,
		JavaScriptEnabled: req.JavaScriptEnabled,
	}, func(res prefetch.Result) {
		done <- res
	}, prefetch.Inline)

	if key == prefetch.InvalidKey {
		var rerr error = errors.New("prefetch rejected")
		select {
		case res := <-done:
			rerr = res.Err
		default:
		}
		c.JSON(prefetchErrorStatus(rerr), gin.H{"error": rerr.Error()})
		return
	}

	h.log.Debug("Prefetch queued via API",
		zap.String("profile", p.Name()),
		zap.Int64("key", int64(key)),
		zap.String("url", req.URL))

	if !req.Wait {
		c.JSON(http.StatusAccepted, gin.H{"key": key})
		return
	}

	wait := maxPrefetchWait
	if req.WaitMS > 0 && time.Duration(req.WaitMS)*time.Millisecond < wait {
		wait = time.Duration(req.WaitMS) * time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case res := <-done:
		out := resultJSON(res)
		out["key"] = key
		c.JSON(http.StatusOK, out)
	case <-timer.C:
		state, _ := p.Prefetch().Status(key)
		c.JSON(http.StatusAccepted, gin.H{"key": key, "state": state.String()})
	case <-c.Request.Context().Done():
		c.Status(http.StatusRequestTimeout)
	}
}

func prefetchErrorStatus(err error) int {
	switch {
	case errors.Is(err, prefetch.ErrFeatureDisabled), errors.Is(err, prefetch.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func parseKey(c *gin.Context) (prefetch.Key, bool) {
	n, err := strconv.ParseInt(c.Param("key"), 10, 64)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prefetch key"})
		return prefetch.InvalidKey, false
	}
	return prefetch.Key(n), true
}

// PrefetchStatus reports the state of one key.
func (h *Handlers) PrefetchStatus(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	key, ok := parseKey(c)
	if !ok {
		return
	}

	state, found := p.Prefetch().Status(key)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown prefetch key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":      key,
		"state":    state.String(),
		"in_cache": p.Prefetch().IsPrefetchInCache(key),
	})
}

// CancelPrefetch drops one key. Unknown keys are a no-op.
func (h *Handlers) CancelPrefetch(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	key, ok := parseKey(c)
	if !ok {
		return
	}
	p.Prefetch().CancelPrefetch(key)
	c.JSON(http.StatusOK, gin.H{"key": key, "in_cache": false})
}

// PrefetchConfig returns the profile's prefetch configuration.
func (h *Handlers) PrefetchConfig(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, configJSON(p.Prefetch().Config()))
}

// UpdatePrefetchConfig changes the profile's prefetch configuration.
func (h *Handlers) UpdatePrefetchConfig(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}

	var req PrefetchConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if req.Enabled != nil {
		p.Prefetch().SetEnabled(*req.Enabled)
	}
	if req.TTLSeconds != 0 || req.MaxPrefetches != 0 {
		p.Prefetch().UpdatePrefetchConfiguration(req.TTLSeconds, req.MaxPrefetches)
	}
	c.JSON(http.StatusOK, configJSON(p.Prefetch().Config()))
}

func configJSON(cfg prefetch.Config) gin.H {
	return gin.H{
		"enabled":        cfg.Enabled,
		"ttl_seconds":    int(cfg.TTL / time.Second),
		"max_prefetches": cfg.MaxPrefetches,
	}
}
