package taskgraph

import (
	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
)

// ApprovalStatus is the review state of an external dependency.
type ApprovalStatus string

const (
	ApprovalPending           ApprovalStatus = "pending"
	ApprovalApproved          ApprovalStatus = "approved"
	ApprovalRejected          ApprovalStatus = "rejected"
	ApprovalNeedsManualReview ApprovalStatus = "needs_manual_review"
)

// Dependency is an external package the generated project may use.
type Dependency struct {
	Name    string         `json:"name" toml:"name"`
	Version string         `json:"version,omitempty" toml:"version"`
	Status  ApprovalStatus `json:"status" toml:"status"`
	Notes   string         `json:"notes,omitempty" toml:"notes"`
}

// Session is the single mutable root of orchestration state. It carries no
// locking of its own; see the session package for the guarded store.
type Session struct {
	ID                string        `json:"id"`
	ProjectRoot       string        `json:"project_root"`
	Status            ProjectStatus `json:"status"`
	ActiveSpec        string        `json:"active_spec,omitempty"`
	Tasks             []Task        `json:"tasks"`
	ExecutingTaskID   string        `json:"executing_task_id,omitempty"`
	Logs              *LogBuffer    `json:"logs"`
	KnownDependencies []Dependency  `json:"known_dependencies,omitempty"`
}

// NewSession returns an unloaded session.
func NewSession(id string) *Session {
	return &Session{
		ID:     id,
		Status: Unloaded(),
		Logs:   NewLogBuffer(LogCapacity),
	}
}

// Reset clears tasks and logs for a (re)loaded project.
func (s *Session) Reset(root string) {
	s.ProjectRoot = root
	s.Status = Idle()
	s.ActiveSpec = ""
	s.Tasks = nil
	s.ExecutingTaskID = ""
	s.Logs.Clear()
}

// Task returns the task with id, or nil.
func (s *Session) Task(id string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// ReplaceTask overwrites the stored task with the same id.
func (s *Session) ReplaceTask(t *Task) error {
	stored := s.Task(t.ID)
	if stored == nil {
		return apperr.NotFound("merge_task", "task "+t.ID)
	}
	*stored = *t.Clone()
	return nil
}

// AllCompleted reports whether every task finished with CompletedSuccess.
func (s *Session) AllCompleted() bool {
	for i := range s.Tasks {
		if !s.Tasks[i].Status.Is(StatusCompletedSuccess) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Tasks = make([]Task, len(s.Tasks))
	for i := range s.Tasks {
		c.Tasks[i] = *s.Tasks[i].Clone()
	}
	c.KnownDependencies = append([]Dependency(nil), s.KnownDependencies...)
	c.Logs = NewLogBuffer(s.Logs.Cap())
	for _, e := range s.Logs.Entries() {
		c.Logs.Push(e)
	}
	return &c
}
