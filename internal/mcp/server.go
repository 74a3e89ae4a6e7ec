// Package mcp exposes the engine to external agents as Model Context
// Protocol tools over stdio.
//
// Tools:
//
//	session_status         status, tasks and recent log entries
//	knowledge_search       semantic search over the project index
//	submit_human_response  answer an escalation and resume the loop
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/knowledge"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// Engine is the part of the orchestration engine the tools use.
type Engine interface {
	Snapshot() *taskgraph.Session
	Respond(ctx context.Context, r escalation.Response) error
}

// Server is an MCP server backed by an engine and an optional knowledge
// index.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	search  knowledge.Searcher
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "taskpilot")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "taskpilot",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a server. search may be nil, in which case
// knowledge_search is not registered.
func NewServer(cfg *Config, engine Engine, search knowledge.Searcher) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		engine:  engine,
		search:  search,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx ends or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}
