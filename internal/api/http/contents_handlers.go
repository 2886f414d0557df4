package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/youtube/cobalt-sub008/internal/browser"
	"github.com/youtube/cobalt-sub008/internal/network"
	"github.com/youtube/cobalt-sub008/internal/shared/id"
)

// NavigateRequest loads a URL in a contents.
type NavigateRequest struct {
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers"`
}

// FetchRequest issues a request from the contents' current document.
// Initiator is "fetch" (default), "subresource" or "service_worker"; Mode
// is "cors" (default), "no-cors" or "same-origin".
type FetchRequest struct {
	URL       string            `json:"url" binding:"required"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Initiator string            `json:"initiator"`
	Mode      string            `json:"mode"`
}

func toHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func parseMode(s string) (network.Mode, bool) {
	switch strings.ToLower(s) {
	case "", "cors":
		return network.ModeCORS, true
	case "no-cors":
		return network.ModeNoCORS, true
	case "same-origin":
		return network.ModeSameOrigin, true
	default:
		return 0, false
	}
}

func contentsJSON(c *browser.Contents) gin.H {
	out := gin.H{"id": c.ID(), "profile": c.Profile().Name()}
	if nav, ok := c.Current(); ok {
		out["current"] = nav
	}
	return out
}

// fetchError maps network and browser failures onto HTTP statuses.
func fetchError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	var cerr *network.CORSError
	switch {
	case errors.Is(err, browser.ErrContentsDestroyed):
		status = http.StatusGone
	case errors.As(err, &cerr), errors.Is(err, network.ErrCrossOrigin):
		status = http.StatusForbidden
	case errors.Is(err, network.ErrUnsupportedScheme):
		status = http.StatusBadRequest
	case errors.Is(err, network.ErrOriginUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, network.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CreateContents opens a new contents in the profile.
func (h *Handlers) CreateContents(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	contents, err := p.NewContents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, contentsJSON(contents))
}

// ListContents lists the profile's live contents.
func (h *Handlers) ListContents(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	out := make([]gin.H, 0)
	for _, contents := range p.AllContents() {
		out = append(out, contentsJSON(contents))
	}
	c.JSON(http.StatusOK, gin.H{"contents": out})
}

func (h *Handlers) contents(c *gin.Context) (*browser.Contents, bool) {
	p, ok := h.browser.Existing(c.Param("profile"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return nil, false
	}
	contents, ok := p.Contents(id.ContentsID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "contents not found"})
		return nil, false
	}
	return contents, true
}

// GetContents returns one contents and its current navigation.
func (h *Handlers) GetContents(c *gin.Context) {
	contents, ok := h.contents(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, contentsJSON(contents))
}

// Navigate commits a top-level load.
func (h *Handlers) Navigate(c *gin.Context) {
	contents, ok := h.contents(c)
	if !ok {
		return
	}

	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	nav, err := contents.LoadURL(c.Request.Context(), req.URL, toHeader(req.Headers))
	if err != nil {
		fetchError(c, err)
		return
	}
	c.JSON(http.StatusOK, nav)
}

// Fetch issues a document-initiated request.
func (h *Handlers) Fetch(c *gin.Context) {
	contents, ok := h.contents(c)
	if !ok {
		return
	}

	var req FetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode " + req.Mode})
		return
	}

	nreq := network.Request{
		Method: strings.ToUpper(req.Method),
		URL:    req.URL,
		Header: toHeader(req.Headers),
		Mode:   mode,
	}
	if req.Body != "" {
		nreq.Body = []byte(req.Body)
	}

	ctx := c.Request.Context()
	var (
		resp *network.Response
		err  error
	)
	switch req.Initiator {
	case "", "fetch":
		resp, err = contents.Fetch(ctx, nreq)
	case "subresource":
		resp, err = contents.LoadSubresource(ctx, req.URL)
	case "service_worker":
		resp, err = contents.ServiceWorkerFetch(ctx, nreq)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown initiator " + req.Initiator})
		return
	}
	if err != nil {
		fetchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":         resp.URL,
		"status_code": resp.StatusCode,
		"mime_type":   resp.MIMEType,
		"initiator":   resp.Initiator.String(),
		"duration_ms": resp.Duration.Milliseconds(),
		"body":        string(resp.Body),
	})
}

// DestroyContents closes a contents.
func (h *Handlers) DestroyContents(c *gin.Context) {
	contents, ok := h.contents(c)
	if !ok {
		return
	}
	contents.Destroy()
	c.JSON(http.StatusOK, gin.H{"id": contents.ID(), "destroyed": true})
}
