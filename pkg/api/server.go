// Package api exposes the orchestrator's HTTP surface: job submission and
// lifecycle endpoints, the SSE progress stream with its WebSocket mirror,
// health, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sondelab/sonde/pkg/config"
	"github.com/sondelab/sonde/pkg/events"
	"github.com/sondelab/sonde/pkg/queue"
)

// Server wires the HTTP routes to the queue manager and event broker.
type Server struct {
	cfg         *config.Config
	manager     *queue.Manager
	pool        *queue.WorkerPool
	broker      *events.Broker
	connManager *events.ConnectionManager
	metrics     http.Handler

	httpServer *http.Server
	log        *slog.Logger
}

// NewServer creates the API server. metricsHandler serves GET /metrics and
// may be nil to disable the endpoint.
func NewServer(
	cfg *config.Config,
	manager *queue.Manager,
	pool *queue.WorkerPool,
	broker *events.Broker,
	connManager *events.ConnectionManager,
	metricsHandler http.Handler,
) *Server {
	s := &Server{
		cfg:         cfg,
		manager:     manager,
		pool:        pool,
		broker:      broker,
		connManager: connManager,
		metrics:     metricsHandler,
		log:         slog.With("component", "api_server"),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return s
}

// routes builds the echo router.
func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())

	v1 := e.Group("/api/v1")
	v1.POST("/jobs", s.submitJobHandler)
	v1.GET("/jobs", s.listJobsHandler)
	v1.GET("/jobs/:id", s.getJobHandler)
	v1.DELETE("/jobs/:id", s.cancelJobHandler)
	v1.POST("/jobs/:id/clarification", s.clarificationHandler)
	v1.GET("/jobs/:id/stream", s.streamJobHandler)
	v1.GET("/health", s.healthHandler)

	e.GET("/ws/jobs/:id", s.wsJobHandler)

	if s.metrics != nil {
		e.GET("/metrics", func(c *echo.Context) error {
			s.metrics.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	return e
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start runs the HTTP listener and blocks until the server shuts down.
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartWithListener serves on a pre-bound listener. Used by tests that need
// a random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
