package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/headers"
)

// HeaderRuleRequest adds or replaces one origin-scoped header.
type HeaderRuleRequest struct {
	Name    string   `json:"name" binding:"required"`
	Value   string   `json:"value"`
	Origins []string `json:"origins"`
}

type headerEntry struct {
	Name    string   `json:"name"`
	Value   string   `json:"value"`
	Origins []string `json:"origins"`
}

func toHeaderEntries(entries []headers.Entry) []headerEntry {
	out := make([]headerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, headerEntry{Name: e.Name, Value: e.Value, Origins: e.Rules()})
	}
	return out
}

// optionalQuery returns nil when key is absent from the query string.
func optionalQuery(c *gin.Context, key string) *string {
	if v, ok := c.GetQuery(key); ok {
		return &v
	}
	return nil
}

// FindHeaders lists header rules, filtered by the name and value query
// parameters when present.
func (h *Handlers) FindHeaders(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	entries := p.Headers().Find(optionalQuery(c, "name"), optionalQuery(c, "value"))
	c.JSON(http.StatusOK, gin.H{"headers": toHeaderEntries(entries)})
}

// SetHeader replaces the origin list of one (name, value) pair.
func (h *Handlers) SetHeader(c *gin.Context) {
	h.writeHeader(c, (*headers.Store).Set)
}

// AddHeader merges origins into one (name, value) pair.
func (h *Handlers) AddHeader(c *gin.Context) {
	h.writeHeader(c, (*headers.Store).Add)
}

func (h *Handlers) writeHeader(c *gin.Context, op func(*headers.Store, string, string, []string) error) {
	p, ok := h.profile(c)
	if !ok {
		return
	}

	var req HeaderRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if err := op(p.Headers(), req.Name, req.Value, req.Origins); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.log.Debug("Header rule updated",
		zap.String("profile", p.Name()),
		zap.String("name", req.Name),
		zap.Strings("origins", req.Origins))

	value := req.Value
	c.JSON(http.StatusOK, gin.H{"headers": toHeaderEntries(p.Headers().Find(&req.Name, &value))})
}

// ClearHeader removes every value under name, or only the value given in
// the query string.
func (h *Handlers) ClearHeader(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	p.Headers().Clear(name, optionalQuery(c, "value"))
	c.JSON(http.StatusOK, gin.H{"remaining": p.Headers().Len()})
}

// ClearAllHeaders empties the profile's header store.
func (h *Handlers) ClearAllHeaders(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}
	p.Headers().ClearAll()
	c.JSON(http.StatusOK, gin.H{"remaining": 0})
}

// ExportHeaders renders the store as a seed file.
func (h *Handlers) ExportHeaders(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", headers.FormatYAML)
	data, err := headers.EncodeSeed(p.Headers().Export(), format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := "application/yaml"
	if format == headers.FormatTOML {
		contentType = "application/toml"
	}
	c.Data(http.StatusOK, contentType, data)
}

// ImportHeaders applies a seed file from the request body. Either every
// rule applies or none does.
func (h *Handlers) ImportHeaders(c *gin.Context) {
	p, ok := h.profile(c)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	rules, err := headers.ParseSeed(data, c.DefaultQuery("format", headers.FormatYAML))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := p.Headers().ApplySeed(rules); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": len(rules), "total": p.Headers().Len()})
}
