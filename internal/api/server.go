// Package api provides the control-plane HTTP server and routing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/axonops/tenant-schema-engine/internal/api/handlers"
	"github.com/axonops/tenant-schema-engine/internal/config"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
)

// Server is the control-plane HTTP server described in spec §6.
type Server struct {
	config  *config.Config
	handler *handlers.Handler
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithMetrics overrides the default private prometheus registry, letting
// callers share one Metrics instance across the server and the scheduler.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer builds a Server wired to h and sets up its router.
func NewServer(cfg *config.Config, h *handlers.Handler, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config:  cfg,
		handler: h,
		logger:  logger,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

// Metrics returns the server's metrics instance for recording custom
// measurements from outside the HTTP layer (scheduler, orchestrator).
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := s.handler

	// Health and metrics are always public.
	r.Get("/health/live", h.LivenessCheck)
	r.Get("/health/ready", h.ReadinessCheck)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	s.mountCatalogRoutes(r, h)
	s.mountOperationsRoutes(r, h)

	s.router = r
}

// mountCatalogRoutes wires the schema catalog CRUD surface of spec §6.
func (s *Server) mountCatalogRoutes(r chi.Router, h *handlers.Handler) {
	r.Route("/schemas", func(r chi.Router) {
		r.Get("/", h.ListSchemas)
		r.Post("/", h.CreateSchema)
		r.Get("/{table}", h.DetailSchema)
		r.Delete("/{table}", h.DeleteSchema)
		r.Get("/{table}/history", h.HistorySchema)
	})
}

// mountOperationsRoutes wires the orchestrator, lock, connection,
// drift-detection, and scheduler control surface of spec §6.
func (s *Server) mountOperationsRoutes(r chi.Router, h *handlers.Handler) {
	r.Post("/execute", h.Execute)
	r.Post("/execute-all", h.ExecuteAll)
	r.Post("/execute-store", h.ExecuteStore)

	r.Route("/locks", func(r chi.Router) {
		r.Get("/", h.ListLocks)
		r.Post("/force-release", h.ForceReleaseLock)
		r.Post("/cleanup", h.CleanupLocks)
	})

	r.Route("/connections", func(r chi.Router) {
		r.Get("/stats", h.ConnectionStats)
		r.Post("/close", h.ConnectionClose)
	})

	r.Route("/schema-detection", func(r chi.Router) {
		r.Post("/all", h.DetectAll)
		r.Post("/detect-and-save", h.DetectAndSave)
		r.Get("/table", h.DetectTable)
	})

	r.Post("/table-schedule/manual-check", h.ManualShardCheck)
	r.Post("/log-cleanup/manual", h.ManualLogCleanup)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start runs the HTTP server; it blocks until Shutdown stops it.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("starting server", slog.String("address", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the HTTP address the server listens on.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s", s.config.Address())
}
