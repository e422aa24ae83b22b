package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/riskcenter/internal/domain"
	"github.com/opensource-finance/riskcenter/internal/service"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. bus may be nil, in which case
// asynchronous run requests are rejected.
func NewServer(cfg domain.ServerConfig, svc *service.Service, bus domain.EventBus, dataPath, version string) *Server {
	handler := NewHandler(svc, bus, dataPath, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Runs
	router.Post("/runs", handler.CreateRun)
	router.Get("/runs", handler.ListRuns)
	router.Get("/runs/{id}", handler.GetRun)

	// Views over the latest run
	router.Get("/snapshot", handler.Snapshot)
	router.Get("/merchants", handler.Merchants)
	router.Get("/trend", handler.Trend)
	router.Get("/transactions/high-risk", handler.HighRisk)
	router.Get("/insights", handler.Insights)
	router.Get("/scores", handler.Scores)
	router.Get("/confusion", handler.Confusion)

	router.Get("/rules", handler.ListRules)

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
