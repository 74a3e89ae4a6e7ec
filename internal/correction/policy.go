// Package correction decides what happens to a task after an attempt.
//
// Decide is pure: the same outcome and task always produce the same
// Decision. Record writes that decision into the task's latest attempt and
// status. A failed attempt is retried while the task has run at most
// maxRetries+1 times since its last human reset; past that the task is
// Failed and the session escalates to a human.
package correction

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/taskpilot/internal/selector"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// StderrLines bounds how much stderr is kept in a BlockedByError reason.
const StderrLines = 5

// DefaultGenerationError is used when the generator fails without details.
const DefaultGenerationError = "Coder indicated failure without details."

// Outcome is everything known about one attempt.
type Outcome struct {
	GenerationSucceeded bool
	GenerationError     string
	GeneratedSummary    string
	GeneratorNotes      string

	// ApplyError is set when generated changes could not be written.
	ApplyError string

	// Verification results; Verified is false when verification was skipped.
	Verified      bool
	ExitCode      int
	Stdout        string
	Stderr        string
	FailedStage   string
	FailureStderr string
	// PipelineError is set when a stage could not be started at all.
	PipelineError string
}

// Action is the session-level follow-up of a decision.
type Action string

const (
	ActionContinue Action = "continue"
	ActionRetry    Action = "retry"
	ActionEscalate Action = "escalate"
)

// Decision is the policy result for one attempt.
type Decision struct {
	TaskStatus    taskgraph.Status
	SessionStatus taskgraph.ProjectStatus
	Action        Action
	// Reason is the failure description, empty on success.
	Reason string
}

// Decide computes the next task and session status for t after outcome.
// t must already contain the attempt the outcome belongs to.
func Decide(o Outcome, t *taskgraph.Task, maxRetries int) Decision {
	reason := failureReason(o)
	if reason == "" {
		return Decision{
			TaskStatus:    taskgraph.CompletedSuccess(),
			SessionStatus: taskgraph.ReadyToExecute(),
			Action:        ActionContinue,
		}
	}

	if selector.CanRetry(t, maxRetries) {
		return Decision{
			TaskStatus:    taskgraph.BlockedByError(reason),
			SessionStatus: taskgraph.SelfCorrecting(t.ID),
			Action:        ActionRetry,
			Reason:        reason,
		}
	}

	prompt := fmt.Sprintf("Task %s failed after %d attempts. Needs review.", t.ID, t.AttemptsSinceReset())
	return Decision{
		TaskStatus:    taskgraph.Failed(),
		SessionStatus: taskgraph.AwaitingHumanInput(t.ID, prompt),
		Action:        ActionEscalate,
		Reason:        reason,
	}
}

// Record stores the outcome in t's latest attempt and applies d.
func Record(o Outcome, d Decision, t *taskgraph.Task) {
	t.Status = d.TaskStatus
	a := t.LastAttempt()
	if a == nil {
		return
	}
	a.GeneratedSummary = o.GeneratedSummary
	a.GeneratorNotes = o.GeneratorNotes
	a.ErrorSummary = d.Reason
	if o.Verified {
		a.VerificationStdout = o.Stdout
		a.VerificationStderr = o.Stderr
		a.VerificationExitCode = o.ExitCode
	} else {
		a.VerificationExitCode = taskgraph.NoExitCode
	}
	if o.GeneratedSummary != "" {
		t.LastGeneratedOutput = o.GeneratedSummary
	}
}

// failureReason returns "" on success, otherwise the BlockedByError text.
// Generation and apply failures take precedence over verification, which
// was skipped for them.
func failureReason(o Outcome) string {
	switch {
	case !o.GenerationSucceeded:
		if strings.TrimSpace(o.GenerationError) == "" {
			return DefaultGenerationError
		}
		return o.GenerationError
	case o.ApplyError != "":
		return "Applying changes failed: " + o.ApplyError
	case o.PipelineError != "":
		return o.PipelineError
	case o.Verified && o.ExitCode != 0:
		stderr := o.FailureStderr
		if stderr == "" {
			stderr = o.Stderr
		}
		head := FirstLines(stderr, StderrLines)
		if o.FailedStage != "" {
			return fmt.Sprintf("Verification failed (code %d) in stage %s: %s", o.ExitCode, o.FailedStage, head)
		}
		return fmt.Sprintf("Verification failed (code %d): %s", o.ExitCode, head)
	}
	return ""
}

// FirstLines returns at most n non-empty leading lines of s joined by newlines.
func FirstLines(s string, n int) string {
	lines := make([]string, 0, n)
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return strings.Join(lines, "\n")
}
