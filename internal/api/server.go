package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clearclaim/kestrel/internal/domain"
	"github.com/clearclaim/kestrel/internal/hybrid"
	"github.com/clearclaim/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, analyzer *hybrid.Analyzer, version string, mode domain.ScoringMode) *Server {
	handler := NewHandler(repo, cache, bus, engine, analyzer, version, mode)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Batch analysis
		r.Post("/analyses", handler.CreateAnalysis)
		r.Get("/analyses/{id}", handler.GetAnalysis)

		// Per-claim score lookup
		r.Get("/analyses/{id}/scores/{claimID}", handler.GetScore)

		// Hybrid review (rules + oracles)
		r.Post("/analyses/{id}/hybrid/{claimID}", handler.HybridReview)
		r.Get("/analyses/{id}/verdicts/{claimID}", handler.GetVerdict)

		// Claim retrieval
		r.Get("/claims/{id}", handler.GetClaim)

		// Per-policy claim history
		r.Get("/policies/{policyNumber}/history", handler.GetPolicyHistory)

		// Engine configuration
		r.Get("/config", handler.GetEngineConfig)
		r.Put("/config", handler.UpdateEngineConfig)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
