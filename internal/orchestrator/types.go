package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
	"github.com/fyrsmithlabs/taskpilot/internal/verify"
)

// Decomposer turns a specification reference into task drafts.
type Decomposer interface {
	Decompose(ctx context.Context, spec string) ([]taskgraph.Draft, error)
}

// ContextPreparer gathers code and reference context for a task.
type ContextPreparer interface {
	Prepare(ctx context.Context, task *taskgraph.Task, root string, settings config.Config) (code, reference string, err error)
}

// GenerationRequest is everything a Generator sees for one attempt.
type GenerationRequest struct {
	Task             *taskgraph.Task
	CodeContext      string
	ReferenceContext string
	// PreviousError is the failure reason of the prior attempt, if any.
	PreviousError string
	Settings      config.Config
	ProjectRoot   string
}

// Generator produces file changes for a task. A returned error is treated
// the same as an outcome with Success false.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (taskgraph.GenerationOutcome, error)
}

// Workspace applies changes, runs verification stages and commits.
type Workspace interface {
	verify.StageRunner
	Apply(ctx context.Context, root string, changes []taskgraph.FileChange) error
	Commit(ctx context.Context, root, message, taskID string) error
}

// Indexer refreshes the knowledge index after successful work.
type Indexer interface {
	Refresh(ctx context.Context, root string, settings config.Config) error
}

// Escalator delivers escalation events to a human operator.
type Escalator interface {
	Publish(ctx context.Context, ev escalation.Event) error
}

// Deps are the collaborators of an Engine. Indexer and Escalator are
// optional.
type Deps struct {
	Session    *session.Store
	Settings   *config.Store
	Decomposer Decomposer
	Preparer   ContextPreparer
	Generator  Generator
	Workspace  Workspace
	Indexer    Indexer
	Escalator  Escalator
}

// Phase names a step of an iteration.
type Phase string

const (
	PhaseSelected Phase = "selected"
	PhaseContext  Phase = "context"
	PhaseGenerate Phase = "generate"
	PhaseApply    Phase = "apply"
	PhaseVerify   Phase = "verify"
	PhaseMerged   Phase = "merged"
)

// Progress is reported at each phase of an iteration.
type Progress struct {
	SessionID string
	TaskID    string
	Attempt   int
	Phase     Phase
	Status    taskgraph.ProjectStatus
}

// ProgressCallback is invoked synchronously from the loop goroutine.
type ProgressCallback func(progress Progress)
