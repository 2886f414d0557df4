package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/youtube/cobalt-sub008/internal/api/http"
	"github.com/youtube/cobalt-sub008/internal/api/middleware"
	"github.com/youtube/cobalt-sub008/internal/api/ws"
	"github.com/youtube/cobalt-sub008/internal/browser"
	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/config"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/logging"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/monitoring"
	"github.com/youtube/cobalt-sub008/internal/network"
	"github.com/youtube/cobalt-sub008/internal/prefetch"
)

// Server wraps the HTTP server and the browser context it controls
type Server struct {
	router  *gin.Engine
	http    *http.Server
	browser *browser.Context
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer builds the browser context and the control API from cfg.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger.Info("Initializing browser host",
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("prefetch_enabled", cfg.Prefetch.Enabled),
		zap.String("headers_file", cfg.Headers.File),
	)

	registry := monitoring.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	var seed []headers.SeedRule
	if cfg.Headers.File != "" {
		seed, err = headers.LoadSeedFile(cfg.Headers.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load header rules: %w", err)
		}
		logger.Info("Loaded header rules", zap.Int("rules", len(seed)))
	}

	b := browser.New(browser.Options{
		Prefetch: prefetch.Config{
			Enabled:       cfg.Prefetch.Enabled,
			TTL:           time.Duration(cfg.Prefetch.TTLSeconds) * time.Second,
			MaxPrefetches: cfg.Prefetch.MaxPrefetches,
		},
		Network:        network.OptionsFromConfig(cfg.Fetch),
		DefaultHeaders: seed,
		Logger:         logger.Component(logging.ComponentBrowser),
		Metrics:        metrics,
	})

	// Build the Default profile now so a bad seed fails startup.
	if _, err := b.DefaultProfile(); err != nil {
		_ = b.Teardown(context.Background())
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	apiLog := logger.Component(logging.ComponentAPI)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(apiLog))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSFromConfig(cfg.CORS)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitFromConfig(cfg.RateLimit)))
	}

	apihttp.NewHandlers(b, metrics, apiLog).Register(router)
	router.GET("/stream", ws.NewHandler(b, metrics, apiLog).HandleConnection)
	router.GET("/metrics", gin.WrapH(monitoring.Handler(registry)))

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		browser: b,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Browser returns the browser context the server controls.
func (s *Server) Browser() *browser.Context {
	return s.browser
}

// Run serves until Close is called. It returns nil after a clean shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops accepting requests, then tears down the browser context.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.browser.Teardown(ctx); err != nil {
		s.logger.Error("Browser teardown failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("browser teardown: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
