package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/knowledge"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// MockEngine is a mock implementation of Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Snapshot() *taskgraph.Session {
	return m.Called().Get(0).(*taskgraph.Session)
}

func (m *MockEngine) Respond(ctx context.Context, r escalation.Response) error {
	return m.Called(ctx, r).Error(0)
}

// MockSearcher is a mock implementation of knowledge.Searcher.
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query string, limit int, typeFilter, root string) ([]knowledge.Result, error) {
	args := m.Called(ctx, query, limit, typeFilter, root)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]knowledge.Result), args.Error(1)
}

func escalatedSession() *taskgraph.Session {
	s := taskgraph.NewSession("sess-1")
	s.ProjectRoot = "/work"
	s.Status = taskgraph.AwaitingHumanInput("T1", "Task T1 failed after 2 attempts. Needs review.")
	s.Tasks = []taskgraph.Task{
		{ID: "T1", Description: "parse input", Type: taskgraph.TypeImplementFunction, Status: taskgraph.Failed(),
			Attempts: []taskgraph.Attempt{{Number: 1}, {Number: 2}}, CurrentAttemptNumber: 2},
		{ID: "T2", Description: "tests", Type: taskgraph.TypeWriteUnitTest, Status: taskgraph.Pending(), Dependencies: []string{"T1"}},
	}
	for i := 0; i < 3; i++ {
		s.Logs.Push(taskgraph.LogEntry{Level: taskgraph.LevelInfo, Component: "orchestrator", Message: "entry", TaskID: "T1"})
	}
	return s
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := s.MCP().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if out != nil && !res.IsError {
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return res
}

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine is required")
}

func TestListTools(t *testing.T) {
	t.Run("with knowledge", func(t *testing.T) {
		s, err := NewServer(nil, new(MockEngine), new(MockSearcher))
		require.NoError(t, err)
		res, err := connect(t, s).ListTools(context.Background(), nil)
		require.NoError(t, err)

		var names []string
		for _, tool := range res.Tools {
			names = append(names, tool.Name)
		}
		assert.ElementsMatch(t, []string{"session_status", "knowledge_search", "submit_human_response"}, names)
	})

	t.Run("without knowledge", func(t *testing.T) {
		s, err := NewServer(nil, new(MockEngine), nil)
		require.NoError(t, err)
		res, err := connect(t, s).ListTools(context.Background(), nil)
		require.NoError(t, err)
		assert.Len(t, res.Tools, 2)
	})
}

func TestSessionStatusTool(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Snapshot").Return(escalatedSession())
	s, err := NewServer(nil, engine, nil)
	require.NoError(t, err)

	var out sessionStatusOutput
	res := call(t, connect(t, s), "session_status", map[string]any{"log_limit": 2}, &out)
	require.False(t, res.IsError)

	assert.Equal(t, "AwaitingHumanInput", out.Status)
	assert.Equal(t, "Task T1 failed after 2 attempts. Needs review.", out.Message)
	require.Len(t, out.Tasks, 2)
	assert.Equal(t, "failed", out.Tasks[0].Status)
	assert.Equal(t, 2, out.Tasks[0].Attempts)
	assert.Len(t, out.Logs, 2)
}

func TestKnowledgeSearchTool(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Snapshot").Return(escalatedSession())
	search := new(MockSearcher)
	search.On("Search", mock.Anything, "tokenizer", 5, "code", "/work").
		Return([]knowledge.Result{{Path: "lex.go", Type: "code", Content: "package lex", Score: 0.9}}, nil)

	s, err := NewServer(nil, engine, search)
	require.NoError(t, err)
	cs := connect(t, s)

	var out knowledgeSearchOutput
	res := call(t, cs, "knowledge_search", map[string]any{"query": "tokenizer", "type": "code"}, &out)
	require.False(t, res.IsError)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "lex.go", out.Results[0].Path)

	res = call(t, cs, "knowledge_search", map[string]any{"query": "tokenizer", "type": "binary"}, nil)
	assert.True(t, res.IsError)

	res = call(t, cs, "knowledge_search", map[string]any{"query": "  "}, nil)
	assert.True(t, res.IsError)
}

func TestKnowledgeSearchTool_ClampsLimit(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Snapshot").Return(escalatedSession())
	search := new(MockSearcher)
	search.On("Search", mock.Anything, "q", maxSearchLimit, "", "/work").Return([]knowledge.Result{}, nil)

	s, err := NewServer(nil, engine, search)
	require.NoError(t, err)
	res := call(t, connect(t, s), "knowledge_search", map[string]any{"query": "q", "limit": 500}, nil)
	assert.False(t, res.IsError)
	search.AssertExpectations(t)
}

func TestSubmitHumanResponseTool(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Respond", mock.Anything, escalation.Response{TaskID: "T1", Text: "split the parser"}).Return(nil)
	engine.On("Respond", mock.Anything, escalation.Response{TaskID: "T9", Text: "x"}).Return(apperr.NotFound("submit_human_response", "task T9"))
	resumed := escalatedSession()
	resumed.Status = taskgraph.ReadyToExecute()
	engine.On("Snapshot").Return(resumed)

	s, err := NewServer(nil, engine, nil)
	require.NoError(t, err)
	cs := connect(t, s)

	var out humanResponseOutput
	res := call(t, cs, "submit_human_response", map[string]any{"task_id": "T1", "response": "split the parser"}, &out)
	require.False(t, res.IsError)
	assert.Equal(t, "ReadyToExecute", out.Status)

	res = call(t, cs, "submit_human_response", map[string]any{"task_id": "T9", "response": "x"}, nil)
	assert.True(t, res.IsError)

	res = call(t, cs, "submit_human_response", map[string]any{"task_id": "T1", "response": " "}, nil)
	assert.True(t, res.IsError)
	engine.AssertNumberOfCalls(t, "Respond", 2)
}

func TestKnowledgeSearchTool_SearchError(t *testing.T) {
	engine := new(MockEngine)
	engine.On("Snapshot").Return(escalatedSession())
	search := new(MockSearcher)
	search.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("index closed"))

	s, err := NewServer(nil, engine, search)
	require.NoError(t, err)
	res := call(t, connect(t, s), "knowledge_search", map[string]any{"query": "q"}, nil)
	assert.True(t, res.IsError)
}
