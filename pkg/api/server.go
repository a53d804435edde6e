// Package api exposes the planner runtime over HTTP: task submission,
// run retrieval and cancellation, health, Prometheus metrics, and the
// WebSocket event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolboxlabs/planner/pkg/config"
	"github.com/toolboxlabs/planner/pkg/events"
	"github.com/toolboxlabs/planner/pkg/metrics"
	"github.com/toolboxlabs/planner/pkg/service"
)

const (
	readHeaderTimeout = 10 * time.Second

	// waitCap bounds how long a ?wait=true submission may hold its
	// connection open.
	waitCap = 10 * time.Minute
)

// Server is the HTTP front door. It owns no run state; everything is
// delegated to the run service and the connection manager.
type Server struct {
	cfg         *config.ServerConfig
	svc         *service.RunService
	connManager *events.ConnectionManager
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer

	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the front door. The gatherer feeds GET /metrics; nil
// disables the endpoint. A nil metrics handle disables HTTP metrics.
func NewServer(cfg *config.ServerConfig, svc *service.RunService, connManager *events.ConnectionManager, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	return &Server{
		cfg:         cfg,
		svc:         svc,
		connManager: connManager,
		metrics:     m,
		gatherer:    gatherer,
		logger:      slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders(), s.requestObserver())

	v1 := r.Group("/api/v1")
	v1.POST("/tasks", s.createTaskHandler)
	v1.GET("/runs", s.listRunsHandler)
	v1.GET("/runs/:id", s.getRunHandler)
	v1.POST("/runs/:id/cancel", s.cancelRunHandler)
	v1.GET("/health", s.healthHandler)
	v1.GET("/ws", s.wsHandler)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Start serves until the listener fails or Shutdown is called.
// http.ErrServerClosed is swallowed; anything else is returned.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
