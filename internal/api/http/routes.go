package http

import "github.com/gin-gonic/gin"

// Register mounts the control API on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	v1.GET("/stats", h.Stats)

	v1.GET("/profiles", h.ListProfiles)
	v1.POST("/profiles", h.CreateProfile)

	p := v1.Group("/profiles/:profile")

	// Origin-scoped headers
	p.GET("/headers", h.FindHeaders)
	p.PUT("/headers", h.SetHeader)
	p.POST("/headers", h.AddHeader)
	p.DELETE("/headers", h.ClearHeader)
	p.DELETE("/headers/all", h.ClearAllHeaders)
	p.GET("/headers/export", h.ExportHeaders)
	p.POST("/headers/import", h.ImportHeaders)

	// Prefetch
	p.POST("/prefetch", h.StartPrefetch)
	p.GET("/prefetch/config", h.PrefetchConfig)
	p.PUT("/prefetch/config", h.UpdatePrefetchConfig)
	p.GET("/prefetch/:key", h.PrefetchStatus)
	p.DELETE("/prefetch/:key", h.CancelPrefetch)

	// Contents
	p.GET("/contents", h.ListContents)
	p.POST("/contents", h.CreateContents)
	p.GET("/contents/:id", h.GetContents)
	p.POST("/contents/:id/navigate", h.Navigate)
	p.POST("/contents/:id/fetch", h.Fetch)
	p.DELETE("/contents/:id", h.DestroyContents)
}
