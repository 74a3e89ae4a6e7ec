package checkpoint

import (
	"time"

	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// Checkpoint is a saved session.
type Checkpoint struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name,omitempty"`
	SessionID   string                  `json:"session_id"`
	ProjectRoot string                  `json:"project_root"`
	Status      taskgraph.ProjectStatus `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	Session     *taskgraph.Session      `json:"session"`
}

// Summary is the listing view of a checkpoint.
type Summary struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name,omitempty"`
	SessionID   string                  `json:"session_id"`
	ProjectRoot string                  `json:"project_root"`
	Status      taskgraph.ProjectStatus `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	TaskCount   int                     `json:"task_count"`
	Completed   int                     `json:"completed"`
}

func (c *Checkpoint) summary() Summary {
	s := Summary{
		ID:          c.ID,
		Name:        c.Name,
		SessionID:   c.SessionID,
		ProjectRoot: c.ProjectRoot,
		Status:      c.Status,
		CreatedAt:   c.CreatedAt,
	}
	if c.Session != nil {
		s.TaskCount = len(c.Session.Tasks)
		for i := range c.Session.Tasks {
			if c.Session.Tasks[i].Status.Is(taskgraph.StatusCompletedSuccess) {
				s.Completed++
			}
		}
	}
	return s
}
