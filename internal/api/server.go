package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vocilia/verify/internal/cycle"
	"github.com/vocilia/verify/internal/domain"
	"github.com/vocilia/verify/internal/keywords"
	"github.com/vocilia/verify/internal/screening"
	"github.com/vocilia/verify/internal/verifydb"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, orch *cycle.Orchestrator, databases *verifydb.Manager, detector *keywords.Detector, screener *screening.Engine, version string, asyncSubmit bool) *Server {
	handler := NewHandler(repo, cache, bus, orch, databases, detector, screener, version, asyncSubmit)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no business required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (business required)
	router.Route("/v1", func(r chi.Router) {
		r.Use(BusinessMiddleware)
		r.Use(RateLimitMiddleware(cache, cfg.RateLimit, time.Duration(cfg.RateLimitWindow)*time.Second))

		// Weekly verification cycles
		r.Post("/cycles", handler.OpenCycle)
		r.Get("/cycles", handler.GetCycleByWeek)
		r.Get("/cycles/{id}", handler.GetCycle)
		r.Post("/cycles/{id}/cancel", handler.CancelCycle)
		r.Get("/cycles/{id}/invoice", handler.GetCycleInvoice)
		r.Get("/cycles/{id}/databases", handler.ListCycleDatabases)

		// Per-store verification databases
		r.Get("/databases/summary", handler.DatabaseSummary)
		r.Get("/databases/{id}", handler.GetDatabase)
		r.Post("/databases/{id}/ready", handler.MarkDatabaseReady)
		r.Post("/databases/{id}/download", handler.MarkDatabaseDownloaded)
		r.Post("/databases/{id}/submit", handler.SubmitDatabase)
		r.Get("/databases/{id}/transactions", handler.ListDatabaseTransactions)

		// Transaction retrieval
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Keyword management
		r.Get("/keywords", handler.ListKeywords)
		r.Post("/keywords", handler.CreateKeyword)

		// Screening rule management
		r.Get("/screening-rules", handler.ListScreeningRules)
		r.Post("/screening-rules", handler.CreateScreeningRule)

		// Manual review queue
		r.Get("/reviews", handler.ListReviews)
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
