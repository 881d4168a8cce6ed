// Package server is the HTTP adapter over the job registry.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/procctl/internal/config"
	"github.com/3leaps/procctl/internal/server/handlers"
	"github.com/3leaps/procctl/internal/server/middleware"
	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
)

// Server serves the health, version, metrics and job endpoints.
type Server struct {
	host     string
	port     int
	router   *chi.Mux
	logger   *zap.Logger
	timeouts config.ServerConfig

	registry *jobregistry.Registry
	catalog  *jobs.Catalog
	metrics  *prometheus.Registry
	health   bool

	httpServer *http.Server
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJobs mounts the /v1/jobs endpoints.
func WithJobs(r *jobregistry.Registry, c *jobs.Catalog) Option {
	return func(s *Server) {
		s.registry = r
		s.catalog = c
	}
}

// WithMetrics records request metrics on reg and serves it at /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithHealth controls whether the /health endpoints are mounted.
func WithHealth(enabled bool) Option {
	return func(s *Server) { s.health = enabled }
}

// WithTimeouts sets the http.Server timeouts.
func WithTimeouts(cfg config.ServerConfig) Option {
	return func(s *Server) { s.timeouts = cfg }
}

func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:   host,
		port:   port,
		logger: zap.NewNop(),
		health: true,
		timeouts: config.ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.NotFound(handlers.NotFoundHandler)
	r.MethodNotAllowed(handlers.MethodNotAllowedHandler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RecoveryWithLogger(s.logger))
	r.Use(middleware.AccessLog(s.logger))
	if s.metrics != nil {
		r.Use(middleware.NewHTTPMetrics(s.metrics).Handler)
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{Registry: s.metrics}))
	}

	if s.health {
		r.Get("/health", handlers.HealthHandler)
		r.Get("/health/live", handlers.LivenessHandler)
		r.Get("/health/ready", handlers.ReadinessHandler)
		r.Get("/health/startup", handlers.StartupHandler)
	}
	r.Get("/version", handlers.VersionHandler)

	if s.registry != nil && s.catalog != nil {
		r.Route("/v1/jobs", handlers.NewJobsHandler(s.registry, s.catalog, s.logger).Routes)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.timeouts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.timeouts.WriteTimeout,
		IdleTimeout:       s.timeouts.IdleTimeout,
	}
	s.logger.Info("Server listening", zap.String("addr", s.Addr()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
