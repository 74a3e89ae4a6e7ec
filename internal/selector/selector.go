// Package selector picks the next runnable task from a session snapshot.
//
// Selection is a pure function: it never mutates the tasks it is given.
// A task is eligible when its status is Pending or Ready and every
// dependency is CompletedSuccess. Among eligible tasks the first in list
// order wins unless a Comparator ranks another one strictly earlier.
//
// While the session is SelfCorrecting(id), only that task is eligible, and
// only while its retry budget lasts. When the budget is spent the result
// asks the caller to escalate.
package selector

import (
	"fmt"

	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// Comparator orders two eligible tasks; negative means a runs first.
// Ties keep list order.
type Comparator func(a, b *taskgraph.Task) int

// Result is the outcome of a selection.
type Result struct {
	// TaskID is the chosen task, empty when none is eligible.
	TaskID string
	// Escalate is set when a self-correcting task has no budget left.
	Escalate bool
	Reason   string
}

// Found reports whether a task was chosen.
func (r Result) Found() bool {
	return r.TaskID != ""
}

// Selector chooses tasks with a fixed ordering policy.
type Selector struct {
	cmp Comparator
}

// New returns a selector; a nil comparator means insertion order.
func New(cmp Comparator) *Selector {
	return &Selector{cmp: cmp}
}

// Select returns the next task to run from tasks given the session status
// and the configured number of self-correction retries.
func (s *Selector) Select(tasks []taskgraph.Task, status taskgraph.ProjectStatus, maxRetries int) Result {
	byID := make(map[string]*taskgraph.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	if status.Is(taskgraph.ProjectSelfCorrecting) {
		return selectRetry(byID, status.TaskID, maxRetries)
	}

	var best *taskgraph.Task
	for i := range tasks {
		t := &tasks[i]
		if !t.Status.Runnable() || !DependenciesMet(t, byID) {
			continue
		}
		if best == nil || (s.cmp != nil && s.cmp(t, best) < 0) {
			best = t
		}
		if s.cmp == nil {
			break
		}
	}
	if best == nil {
		return Result{}
	}
	return Result{TaskID: best.ID}
}

// CanRetry reports whether a task may run again under a budget of
// maxRetries retries after its first attempt.
func CanRetry(t *taskgraph.Task, maxRetries int) bool {
	return t.AttemptsSinceReset() < maxRetries+1
}

func selectRetry(byID map[string]*taskgraph.Task, id string, maxRetries int) Result {
	t, ok := byID[id]
	if !ok {
		return Result{Escalate: true, Reason: fmt.Sprintf("Task %s failed self-correction.", id)}
	}
	if t.Status.Terminal() || !CanRetry(t, maxRetries) || !DependenciesMet(t, byID) {
		return Result{Escalate: true, Reason: fmt.Sprintf("Task %s failed self-correction.", id)}
	}
	return Result{TaskID: id}
}

// DependenciesMet reports whether every dependency of t is CompletedSuccess.
// Unknown dependency ids count as unmet.
func DependenciesMet(t *taskgraph.Task, byID map[string]*taskgraph.Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := byID[dep]
		if !ok || !d.Status.Is(taskgraph.StatusCompletedSuccess) {
			return false
		}
	}
	return true
}
