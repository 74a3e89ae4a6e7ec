package taskgraph

import (
	"time"
)

// NoExitCode marks an attempt whose verification never ran.
const NoExitCode = -1

// Attempt is one execution record of a task. Fields other than the
// verification results are fixed once the attempt is appended.
type Attempt struct {
	Number               int       `json:"attempt_number"`
	StartedAt            time.Time `json:"started_at"`
	GeneratedSummary     string    `json:"generated_summary,omitempty"`
	VerificationStdout   string    `json:"verification_stdout,omitempty"`
	VerificationStderr   string    `json:"verification_stderr,omitempty"`
	VerificationExitCode int       `json:"verification_exit_code"`
	ErrorSummary         string    `json:"error_summary,omitempty"`
	GeneratorNotes       string    `json:"generator_notes,omitempty"`
}

// Task is a unit of generation work.
type Task struct {
	ID                   string    `json:"id"`
	ParentID             string    `json:"parent_id,omitempty"`
	Description          string    `json:"description"`
	Type                 TaskType  `json:"task_type"`
	Status               Status    `json:"status"`
	Dependencies         []string  `json:"dependencies,omitempty"`
	SubTaskIDs           []string  `json:"sub_task_ids,omitempty"`
	Attempts             []Attempt `json:"attempts,omitempty"`
	CurrentAttemptNumber int       `json:"current_attempt_number"`
	// AttemptBaseline is CurrentAttemptNumber at the last human reset.
	AttemptBaseline     int    `json:"attempt_baseline,omitempty"`
	LastGeneratedOutput string `json:"last_generated_output,omitempty"`
	HumanReviewNotes    string `json:"human_review_notes,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.SubTaskIDs = append([]string(nil), t.SubTaskIDs...)
	c.Attempts = append([]Attempt(nil), t.Attempts...)
	return &c
}

// BeginAttempt appends a new attempt and advances the counter.
func (t *Task) BeginAttempt(now time.Time) *Attempt {
	t.CurrentAttemptNumber = len(t.Attempts) + 1
	t.Attempts = append(t.Attempts, Attempt{
		Number:               t.CurrentAttemptNumber,
		StartedAt:            now,
		VerificationExitCode: NoExitCode,
	})
	return &t.Attempts[len(t.Attempts)-1]
}

// LastAttempt returns the most recent attempt, or nil.
func (t *Task) LastAttempt() *Attempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	return &t.Attempts[len(t.Attempts)-1]
}

// AttemptsSinceReset counts attempts made since the last human reset.
func (t *Task) AttemptsSinceReset() int {
	n := t.CurrentAttemptNumber - t.AttemptBaseline
	if n < 0 {
		return 0
	}
	return n
}

// ResetByHuman returns the task to Pending with fresh retry budget.
func (t *Task) ResetByHuman(notes string) {
	t.Status = Pending()
	t.HumanReviewNotes = notes
	t.AttemptBaseline = t.CurrentAttemptNumber
}

// DependsOn reports whether id is a direct dependency of t.
func (t *Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}
