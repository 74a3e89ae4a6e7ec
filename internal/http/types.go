package http

import (
	"time"

	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

// SessionResponse is the response body for GET /api/v1/session.
type SessionResponse struct {
	ID                string                  `json:"id"`
	ProjectRoot       string                  `json:"project_root"`
	Status            taskgraph.ProjectStatus `json:"status"`
	ExecutingTaskID   string                  `json:"executing_task_id,omitempty"`
	Running           bool                    `json:"running"`
	Tasks             []taskgraph.Task        `json:"tasks"`
	KnownDependencies []taskgraph.Dependency  `json:"known_dependencies,omitempty"`
}

// LogsResponse is the response body for GET /api/v1/logs.
type LogsResponse struct {
	Entries []taskgraph.LogEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// HumanResponseRequest is the request body for POST /api/v1/human-response.
type HumanResponseRequest struct {
	TaskID   string `json:"task_id"`
	Response string `json:"response"`
}

// StartRequest is the optional request body for POST /api/v1/start. When
// Spec is set the spec is decomposed before the loop starts.
type StartRequest struct {
	Spec string `json:"spec,omitempty"`
}

// CheckpointRequest is the request body for POST /api/v1/checkpoints.
type CheckpointRequest struct {
	Name string `json:"name,omitempty"`
}

// CheckpointResponse describes a saved checkpoint.
type CheckpointResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
