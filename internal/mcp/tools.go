package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/knowledge"
)

const (
	defaultLogLimit    = 20
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type sessionStatusInput struct {
	LogLimit int `json:"log_limit,omitempty" jsonschema:"number of recent log entries to include (default 20)"`
}

type taskView struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Attempts    int    `json:"attempts"`
}

type logView struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	TaskID  string    `json:"task_id,omitempty"`
}

type sessionStatusOutput struct {
	Status          string     `json:"status"`
	Message         string     `json:"message,omitempty"`
	ProjectRoot     string     `json:"project_root"`
	ExecutingTaskID string     `json:"executing_task_id,omitempty"`
	Tasks           []taskView `json:"tasks"`
	Logs            []logView  `json:"logs"`
}

type knowledgeSearchInput struct {
	Query string `json:"query" jsonschema:"what to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum results (default 5)"`
	Type  string `json:"type,omitempty" jsonschema:"restrict to code or doc"`
}

type knowledgeSearchOutput struct {
	Results []knowledge.Result `json:"results"`
}

type humanResponseInput struct {
	TaskID   string `json:"task_id" jsonschema:"task the response answers"`
	Response string `json:"response" jsonschema:"guidance for the next attempt"`
}

type humanResponseOutput struct {
	Status string `json:"status"`
}

// instrument wraps a tool handler with invocation metrics and logging.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, in)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		}
		return res, out, err
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_status",
		Description: "Show the orchestration status, tasks and recent log entries",
	}, instrument(s, "session_status", s.sessionStatus))

	if s.search != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "knowledge_search",
			Description: "Search the project's indexed code and documentation",
		}, instrument(s, "knowledge_search", s.knowledgeSearch))
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "submit_human_response",
		Description: "Answer an escalated or clarification-blocked task and resume orchestration",
	}, instrument(s, "submit_human_response", s.submitHumanResponse))
}

func (s *Server) sessionStatus(_ context.Context, _ *mcp.CallToolRequest, in sessionStatusInput) (*mcp.CallToolResult, sessionStatusOutput, error) {
	limit := in.LogLimit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	snap := s.engine.Snapshot()
	out := sessionStatusOutput{
		Status:          string(snap.Status.Kind),
		Message:         snap.Status.Message,
		ProjectRoot:     snap.ProjectRoot,
		ExecutingTaskID: snap.ExecutingTaskID,
		Tasks:           make([]taskView, 0, len(snap.Tasks)),
		Logs:            []logView{},
	}
	for _, t := range snap.Tasks {
		out.Tasks = append(out.Tasks, taskView{
			ID:          t.ID,
			Description: t.Description,
			Type:        string(t.Type),
			Status:      string(t.Status.Kind),
			Reason:      t.Status.Reason,
			Attempts:    len(t.Attempts),
		})
	}
	for _, e := range snap.Logs.Tail(limit) {
		out.Logs = append(out.Logs, logView{Time: e.Timestamp, Level: string(e.Level), Message: e.Message, TaskID: e.TaskID})
	}
	return nil, out, nil
}

func (s *Server) knowledgeSearch(ctx context.Context, _ *mcp.CallToolRequest, in knowledgeSearchInput) (*mcp.CallToolResult, knowledgeSearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, knowledgeSearchOutput{}, errors.New("query is required")
	}
	if in.Type != "" && in.Type != knowledge.TypeCode && in.Type != knowledge.TypeDoc {
		return nil, knowledgeSearchOutput{}, errors.New("type must be code or doc")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	root := s.engine.Snapshot().ProjectRoot
	if root == "" {
		return nil, knowledgeSearchOutput{}, errors.New("no project loaded")
	}
	results, err := s.search.Search(ctx, in.Query, limit, in.Type, root)
	if err != nil {
		return nil, knowledgeSearchOutput{}, err
	}
	if results == nil {
		results = []knowledge.Result{}
	}
	return nil, knowledgeSearchOutput{Results: results}, nil
}

func (s *Server) submitHumanResponse(ctx context.Context, _ *mcp.CallToolRequest, in humanResponseInput) (*mcp.CallToolResult, humanResponseOutput, error) {
	if in.TaskID == "" || strings.TrimSpace(in.Response) == "" {
		return nil, humanResponseOutput{}, errors.New("task_id and response are required")
	}
	if err := s.engine.Respond(ctx, escalation.Response{TaskID: in.TaskID, Text: in.Response}); err != nil {
		return nil, humanResponseOutput{}, err
	}
	return nil, humanResponseOutput{Status: s.engine.Snapshot().Status.String()}, nil
}
