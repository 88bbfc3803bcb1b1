// Package server is the HTTP front-end: the search page, the JSON search
// API, CSV exports, and a WebSocket channel that streams search progress.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taxotag/internal/config"
	"taxotag/internal/datadir"
	"taxotag/internal/middleware"
	"taxotag/internal/models"
	"taxotag/internal/monitoring"
	"taxotag/internal/tagger"
	"taxotag/internal/version"
)

// Server holds the HTTP handlers and the services they depend on.
type Server struct {
	config  *config.Config
	dataDir *datadir.DataDir
	tagger  *tagger.Service

	registry   *models.Registry
	downloader *models.Downloader

	// Rate limiting
	rateLimitMiddleware *middleware.RateLimitMiddleware

	// Monitoring
	metrics *monitoring.ServerMetrics

	// Completed search results kept for CSV export
	results *resultStore

	// WebSocket handling
	upgrader websocket.Upgrader
	ctx      context.Context // server lifecycle context (for WebSocket handlers)
	wg       sync.WaitGroup  // in-flight WebSocket searches
}

// New creates a new Server instance.
func New(cfg *config.Config) (*Server, error) {
	dd, err := datadir.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	registry := models.DefaultRegistry()
	if cfg.Models.ManifestPath != "" {
		registry, err = models.LoadManifest(cfg.Models.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load model manifest: %w", err)
		}
		log.Printf("[Server] Loaded model manifest from %s", cfg.Models.ManifestPath)
	}

	downloader := models.NewDownloader(cfg.Models.BaseURL, dd.ModelsDir(),
		time.Duration(cfg.Models.DownloadTimeoutSeconds)*time.Second)

	svc, err := tagger.NewService(tagger.Config{
		DataDir:      dd,
		Registry:     registry,
		Downloader:   downloader,
		DefaultModel: cfg.Search.DefaultModel,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		MaxSequences: cfg.Search.MaxSequences,
		EfSearch:     cfg.Search.EfSearch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tagger service: %w", err)
	}

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(middleware.RateLimitMiddlewareConfig{
		Config: middleware.RateLimitConfig{
			Enabled:                cfg.RateLimiting.Enabled,
			WindowSeconds:          cfg.RateLimiting.WindowSeconds,
			MaxRequests:            cfg.RateLimiting.MaxRequests,
			CleanupIntervalSeconds: cfg.RateLimiting.CleanupIntervalSeconds,
		},
		OnRateLimitExceeded: func(r *http.Request, identifier string) {
			log.Printf("[RateLimit] Request rate limited: %s %s (client: %s)",
				r.Method, r.URL.Path, identifier)
		},
	})

	metrics := monitoring.NewServerMetrics()
	metrics.SetVersion(version.Info())

	return &Server{
		config:              cfg,
		dataDir:             dd,
		tagger:              svc,
		registry:            registry,
		downloader:          downloader,
		rateLimitMiddleware: rateLimitMiddleware,
		metrics:             metrics,
		results:             newResultStore(maxStoredResults),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The page is served from this process; same-origin checks add
			// nothing for an anonymous local tool.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// routes builds the request multiplexer. Split out so tests can exercise
// handlers without binding a port.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Public health endpoints (rate limited like everything else)
	mux.Handle("/health", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleMetrics)))

	// Front page
	mux.Handle("/", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleIndex)))

	// Search API
	mux.Handle("/api/search", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleSearch)))
	mux.Handle("/api/search/csv", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleCSVExport)))
	mux.Handle("/api/models", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleModels)))
	mux.Handle("/api/databases", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleDatabases)))

	// WebSocket endpoint streaming per-sequence progress
	mux.Handle("/ws/search", s.rateLimitMiddleware.Wrap(http.HandlerFunc(s.handleSearchStream)))

	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	// HTTP request contexts are cancelled when the handler returns, which is
	// immediate after a WebSocket upgrade. Streaming goroutines need a
	// context tied to the server's lifecycle instead.
	s.ctx = ctx

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("[Server] Listening on port %d", s.config.Port)

	<-ctx.Done()

	log.Println("[Server] Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}

	s.wg.Wait()
	s.rateLimitMiddleware.Stop()

	if err := s.tagger.Close(); err != nil {
		log.Printf("[Server] WARNING: Failed to close databases: %v", err)
	}

	log.Println("[Server] Shutdown complete")
	return nil
}
