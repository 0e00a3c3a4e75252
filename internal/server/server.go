// Package server exposes batch runs over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/batch-api-runner/internal/config"
	"github.com/Sternrassler/batch-api-runner/pkg/catalog"
	"github.com/Sternrassler/batch-api-runner/pkg/client"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
	"github.com/Sternrassler/batch-api-runner/pkg/metrics"
	"github.com/Sternrassler/batch-api-runner/pkg/progress"
)

// HealthChecker is a dependency whose failure degrades /health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Server represents the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	cfg      *config.Config
	client   *client.Client
	catalog  *catalog.Catalog
	reporter progress.Reporter
	checkers map[string]HealthChecker
	logger   zerolog.Logger

	// endpointClients holds clients for catalog endpoints with their own timeout.
	endpointClients map[string]*client.Client
}

// Option customizes a Server.
type Option func(*Server)

// WithCatalog enables the endpoint query parameter.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithReporter sets the progress reporter used for every batch.
func WithReporter(r progress.Reporter) Option {
	return func(s *Server) {
		if r != nil {
			s.reporter = r
		}
	}
}

// WithHealthChecker registers a dependency checked by /health.
func WithHealthChecker(name string, checker HealthChecker) Option {
	return func(s *Server) {
		s.checkers[name] = checker
	}
}

// New creates a new HTTP server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	c, err := client.New(cfg.ClientConfig(0))
	if err != nil {
		return nil, fmt.Errorf("create fetch client: %w", err)
	}

	s := &Server{
		router:          chi.NewRouter(),
		cfg:             cfg,
		client:          c,
		reporter:        progress.Nop,
		checkers:        make(map[string]HealthChecker),
		logger:          logging.NewLogger(logging.ComponentServer),
		endpointClients: make(map[string]*client.Client),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range s.catalog.Names() {
		ep, _ := s.catalog.Lookup(name)
		if ep.Timeout <= 0 {
			continue
		}
		epClient, err := client.New(cfg.ClientConfig(ep.Timeout))
		if err != nil {
			return nil, fmt.Errorf("create client for endpoint %s: %w", name, err)
		}
		s.endpointClients[name] = epClient
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "the requested resource was not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "the requested method is not allowed for this resource")
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router.Post("/v1/batches", s.handleBatch)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().
		Str("addr", s.cfg.Server.Listen).
		Int("workers", s.cfg.Fetch.Workers).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and releases idle connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	defer s.closeClients()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) closeClients() {
	s.client.Close()
	for _, c := range s.endpointClients {
		c.Close()
	}
}

// Handler exposes the underlying router for testing and instrumentation.
func (s *Server) Handler() http.Handler {
	return s.router
}
