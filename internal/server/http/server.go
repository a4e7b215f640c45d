// Package http is the ingress facade: the JSON API front-ends talk to.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nestor/internal/agent"
	"nestor/internal/agent/ports"
	"nestor/internal/audit"
	"nestor/internal/confirm"
	"nestor/internal/contextstore"
	"nestor/internal/dispatcher"
	"nestor/internal/logging"
	"nestor/internal/observability"
	"nestor/internal/workerpool"
)

// StatsProvider exposes the agent loop's counters.
type StatsProvider interface {
	Stats() agent.Stats
}

// Deps carries every collaborator the handlers need.
type Deps struct {
	Dispatcher *dispatcher.Dispatcher
	Executor   ports.ToolExecutor
	Store      *contextstore.Store
	Broker     *confirm.Broker
	Audit      *audit.Log
	Pool       *workerpool.Pool
	Agent      StatsProvider
	Metrics    *observability.Metrics
	Logger     logging.Logger
}

// Server wraps the gin engine and its HTTP listener.
type Server struct {
	deps   Deps
	router *gin.Engine
	http   *http.Server
}

// New builds the router. The listener is not started until Start.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger), cors.Default())

	s := &Server{deps: deps, router: router}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/command", s.handleCommand)

	s.router.POST("/context", s.handleContextReset)
	s.router.GET("/context/:user_id", s.handleContextGet)
	s.router.DELETE("/context/:user_id", s.handleContextClear)

	s.router.POST("/exec", s.handleExec)

	s.router.POST("/security/confirm/:id", s.handleConfirm)
	s.router.GET("/security/pending", s.handlePending)
	s.router.GET("/security/audit/recent", s.handleAuditRecent)
	s.router.GET("/security/audit/principal/:principal", s.handleAuditPrincipal)

	s.router.GET("/stats", s.handleStats)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.deps.Logger.Info("HTTP facade listening on %s", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
