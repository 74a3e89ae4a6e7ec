// Package http provides the HTTP control surface for a running engine.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// DefaultLogLimit is the number of entries GET /api/v1/logs returns
// without a limit parameter.
const DefaultLogLimit = 50

// Engine is the part of the orchestration engine the server drives.
type Engine interface {
	Snapshot() *taskgraph.Session
	Running() bool
	StartSpec(ctx context.Context, spec string) error
	StartProcessing(ctx context.Context) error
	SubmitHumanResponse(ctx context.Context, taskID, response string) error
	Resume(ctx context.Context) error
	Stop()
}

// Checkpointer saves session checkpoints on request.
type Checkpointer interface {
	Save(ctx context.Context, name string) (*checkpoint.Checkpoint, error)
	List(ctx context.Context) ([]checkpoint.Summary, error)
}

// Server provides HTTP endpoints for taskpilot.
type Server struct {
	echo        *echo.Echo
	engine      Engine
	checkpoints Checkpointer
	logger      *zap.Logger
	config      *Config

	// base is the context loops started over HTTP run under; request
	// contexts end with the request.
	base context.Context
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithCheckpoints enables the checkpoint routes.
func WithCheckpoints(c Checkpointer) Option {
	return func(s *Server) { s.checkpoints = c }
}

// WithBaseContext sets the context loops are started under.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.base = ctx }
}

// WithMetrics installs the request metrics middleware.
func WithMetrics(m *RequestMetrics) Option {
	return func(s *Server) { s.echo.Use(m.Middleware()) }
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: engine,
		logger: logger,
		config: cfg,
		base:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/session", s.handleSession)
	v1.GET("/logs", s.handleLogs)
	v1.POST("/human-response", s.handleHumanResponse)
	v1.POST("/start", s.handleStart)
	v1.POST("/resume", s.handleResume)
	v1.POST("/stop", s.handleStop)
	if s.checkpoints != nil {
		v1.GET("/checkpoints", s.handleListCheckpoints)
		v1.POST("/checkpoints", s.handleSaveCheckpoint)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Running: s.engine.Running()})
}

func (s *Server) handleSession(c echo.Context) error {
	snap := s.engine.Snapshot()
	tasks := snap.Tasks
	if tasks == nil {
		tasks = []taskgraph.Task{}
	}
	return c.JSON(http.StatusOK, SessionResponse{
		ID:                snap.ID,
		ProjectRoot:       snap.ProjectRoot,
		Status:            snap.Status,
		ExecutingTaskID:   snap.ExecutingTaskID,
		Running:           s.engine.Running(),
		Tasks:             tasks,
		KnownDependencies: snap.KnownDependencies,
	})
}

func (s *Server) handleLogs(c echo.Context) error {
	limit := DefaultLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}
	snap := s.engine.Snapshot()
	entries := snap.Logs.Tail(limit)
	if entries == nil {
		entries = []taskgraph.LogEntry{}
	}
	return c.JSON(http.StatusOK, LogsResponse{Entries: entries, Total: snap.Logs.Len()})
}

func (s *Server) handleHumanResponse(c echo.Context) error {
	var req HumanResponseRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid human response request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.TaskID == "" || req.Response == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "task_id and response are required"})
	}
	if err := s.engine.SubmitHumanResponse(c.Request().Context(), req.TaskID, req.Response); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, s.engine.Snapshot().Status)
}

func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
	}
	if req.Spec != "" {
		if err := s.engine.StartSpec(s.base, req.Spec); err != nil {
			return s.fail(c, err)
		}
	}
	if err := s.engine.StartProcessing(s.base); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, s.engine.Snapshot().Status)
}

func (s *Server) handleResume(c echo.Context) error {
	if err := s.engine.Resume(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	if err := s.engine.StartProcessing(s.base); err != nil && !errors.Is(err, apperr.ErrInvalidState) {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, s.engine.Snapshot().Status)
}

func (s *Server) handleStop(c echo.Context) error {
	s.engine.Stop()
	return c.JSON(http.StatusAccepted, s.engine.Snapshot().Status)
}

func (s *Server) handleListCheckpoints(c echo.Context) error {
	list, err := s.checkpoints.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if list == nil {
		list = []checkpoint.Summary{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleSaveCheckpoint(c echo.Context) error {
	var req CheckpointRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
	}
	cp, err := s.checkpoints.Save(c.Request().Context(), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, CheckpointResponse{ID: cp.ID, CreatedAt: cp.CreatedAt})
}

// fail maps engine error kinds to status codes.
func (s *Server) fail(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	kind := apperr.KindOf(err)
	if kind != "" {
		c.Set(errorKindKey, kind)
	}
	switch kind {
	case apperr.KindInvalidState:
		code = http.StatusConflict
	case apperr.KindNotFound:
		code = http.StatusNotFound
	case apperr.KindConfiguration, apperr.KindTaskDependency, apperr.KindDuplicateTask, apperr.KindCyclicDependency:
		code = http.StatusUnprocessableEntity
	case apperr.KindGeneration:
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	return c.JSON(code, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

// Handler returns the underlying handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
