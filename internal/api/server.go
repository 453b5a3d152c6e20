// Package api provides the HTTP server and handlers for Kestrel.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Server wraps the HTTP server with graceful shutdown support.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	handler    *Handler
	cfg        domain.ServerConfig
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, policies *policy.Engine, engineCfg domain.EngineConfig, version string, syncMode bool) *Server {
	handler := NewHandler(repo, cache, bus, eng, policies, engineCfg, version, syncMode)

	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Expense ingestion and lookups
		r.Post("/expenses", handler.IngestExpense)
		r.Get("/expenses/{id}", handler.GetExpense)
		r.Get("/expenses/{id}/decision", handler.GetExpenseDecision)
		r.Get("/expenses/{id}/audit", handler.GetExpenseAudit)

		// Decisions
		r.Get("/decisions/{id}", handler.GetDecision)

		// Bank feed
		r.Post("/bank-transactions", handler.IngestBankTransaction)
		r.Get("/bank-transactions/{id}", handler.GetBankTransaction)

		// Event calendar
		r.Post("/events", handler.CreateEvent)

		// Review queue
		r.Get("/reviews", handler.ListReviews)
		r.Post("/reviews/{id}/resolve", handler.ResolveReview)

		// Policy rule management
		r.Get("/policies", handler.ListPolicies)
		r.Get("/policies/{id}", handler.GetPolicy)
		r.Post("/policies", handler.CreatePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)
	})

	return &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
