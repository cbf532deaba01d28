// Package api provides the HTTP/WS surface for the Coherent Reconstruction
// Pipeline: job submission and status, abort/resume, health, and the
// streaming and audit WebSocket endpoints (spec §6).
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/job"
	"github.com/longformai/coherence/pkg/model"
	"github.com/longformai/coherence/pkg/stream"
)

// Submitter accepts a new reconstruction job submission. Implemented by
// *pkg/job.Controller.
type Submitter interface {
	Submit(ctx context.Context, kind model.JobKind, sourceText, directiveRaw string) (*model.Job, error)
}

// Expander accepts a new expansion job submission and drives it to
// completion. Implemented by *pkg/expansion.Engine.
type Expander interface {
	Submit(ctx context.Context, directiveRaw, sourceText string) (*model.Job, error)
	Run(ctx context.Context, j *model.Job) error
}

// Pool is the worker pool surface the API needs for abort and health.
// Implemented by *pkg/job.WorkerPool.
type Pool interface {
	Abort(jobID string) bool
	Health(ctx context.Context) job.PoolHealth
}

// Store is the persistence surface the API needs beyond submission.
// Implemented by *pkg/store.Client.
type Store interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	AbortJob(ctx context.Context, jobID string) error
	TransitionStatus(ctx context.Context, jobID string, from, to model.JobStatus) error
	stream.AuditQuerier
}

// Server is the gin-backed HTTP/WS server, grounded on cmd/tarsy/main.go's
// gin wiring and pkg/events' websocket handler shape.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	cfg        *config.Config
	store      Store
	controller Submitter
	expander   Expander
	pool       Pool
	hub        *stream.Hub
}

// NewServer builds a Server and registers all routes. expander may be nil,
// in which case POST /jobs rejects expansion-kind submissions.
func NewServer(cfg *config.Config, st Store, controller Submitter, expander Expander, pool Pool, hub *stream.Hub) *Server {
	s := &Server{
		router:     gin.Default(),
		cfg:        cfg,
		store:      st,
		controller: controller,
		expander:   expander,
		pool:       pool,
		hub:        hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	jobs := s.router.Group("/jobs")
	jobs.POST("", s.handleSubmit)
	jobs.GET("/:id", s.handleGet)
	jobs.POST("/:id/abort", s.handleAbort)
	jobs.POST("/:id/resume", s.handleResume)

	s.router.GET("/ws/cc-stream", s.handleStreamWS)
	s.router.GET("/ws/audit", s.handleAuditWS)
	s.router.GET("/ws/generation", s.handleGenerationWS)
}

// Start serves on addr; blocks until Shutdown is called or the listener
// errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: listen: %w", err)
	}
	return nil
}

// StartWithListener serves on a pre-created listener. Used by test
// infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ph := s.pool.Health(ctx)
	stats := s.cfg.Stats()

	status := http.StatusOK
	health := "healthy"
	if !ph.DBReachable {
		status = http.StatusServiceUnavailable
		health = "unhealthy"
	}

	c.JSON(status, HealthResponse{
		Status:      health,
		DBReachable: ph.DBReachable,
		WorkerPool:  ph,
		Configuration: ConfigSummary{
			WorkerCount:       stats.Worker,
			MaxConcurrentJobs: stats.MaxConcurrentJobs,
			LLMProvider:       stats.LLMProvider,
		},
	})
}

func (s *Server) acceptWebSocket(c *gin.Context) *websocket.Conn {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return nil
	}
	return conn
}

func (s *Server) handleStreamWS(c *gin.Context) {
	conn := s.acceptWebSocket(c)
	if conn == nil {
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}

func (s *Server) handleGenerationWS(c *gin.Context) {
	conn := s.acceptWebSocket(c)
	if conn == nil {
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}

func (s *Server) handleAuditWS(c *gin.Context) {
	conn := s.acceptWebSocket(c)
	if conn == nil {
		return
	}
	s.hub.HandleAuditConnection(c.Request.Context(), conn, s.store, s.cfg.Stream.CatchupLimit)
}
