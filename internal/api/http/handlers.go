// Package http exposes the browser host over a JSON control API.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/browser"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/monitoring"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	browser *browser.Context
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewHandlers creates a new handler set. metrics and log may be nil.
func NewHandlers(b *browser.Context, metrics *monitoring.Metrics, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{browser: b, metrics: metrics, log: log}
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "browser host",
		"version": Version,
	})
}

// Health reports profiles, queue depths and breaker states
func (h *Handlers) Health(c *gin.Context) {
	profiles := make([]gin.H, 0)
	for _, p := range h.browser.Profiles() {
		profiles = append(profiles, gin.H{
			"name":     p.Name(),
			"id":       p.ID(),
			"headers":  p.Headers().Len(),
			"queued":   p.Prefetch().QueueLen(),
			"drains":   p.Prefetch().DrainCount(),
			"contents": len(p.AllContents()),
			"breakers": p.Client().BreakerStates(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"looper":   gin.H{"pending": h.browser.Looper().Pending(), "idle": h.browser.Looper().Idle()},
		"profiles": profiles,
	})
}

// Stats returns the metrics snapshot
func (h *Handlers) Stats(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// ListProfiles lists created profiles
func (h *Handlers) ListProfiles(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, p := range h.browser.Profiles() {
		out = append(out, gin.H{"name": p.Name(), "id": p.ID()})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

// CreateProfile returns the named profile, creating it if needed
func (h *Handlers) CreateProfile(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	p, err := h.browser.Profile(req.Name)
	if err != nil {
		h.profileError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": p.Name(), "id": p.ID()})
}

// profile resolves the :profile path parameter.
func (h *Handlers) profile(c *gin.Context) (*browser.Profile, bool) {
	p, err := h.browser.Profile(c.Param("profile"))
	if err != nil {
		h.profileError(c, err)
		return nil, false
	}
	return p, true
}

func (h *Handlers) profileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, browser.ErrEmptyProfileName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, browser.ErrContextClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error("Profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
