package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/correction"
	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
	"github.com/fyrsmithlabs/taskpilot/internal/verify"
)

// MockDecomposer is a mock implementation of Decomposer.
type MockDecomposer struct {
	mock.Mock
}

func (m *MockDecomposer) Decompose(ctx context.Context, spec string) ([]taskgraph.Draft, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]taskgraph.Draft), args.Error(1)
}

// MockPreparer is a mock implementation of ContextPreparer.
type MockPreparer struct {
	mock.Mock
}

func (m *MockPreparer) Prepare(ctx context.Context, task *taskgraph.Task, root string, settings config.Config) (string, string, error) {
	args := m.Called(ctx, task, root, settings)
	return args.String(0), args.String(1), args.Error(2)
}

// MockGenerator is a mock implementation of Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req GenerationRequest) (taskgraph.GenerationOutcome, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(taskgraph.GenerationOutcome), args.Error(1)
}

// MockWorkspace is a mock implementation of Workspace.
type MockWorkspace struct {
	mock.Mock
}

func (m *MockWorkspace) Apply(ctx context.Context, root string, changes []taskgraph.FileChange) error {
	args := m.Called(ctx, root, changes)
	return args.Error(0)
}

func (m *MockWorkspace) RunStage(ctx context.Context, name, root string, onLine func(verify.Line)) (verify.StageOutput, error) {
	args := m.Called(ctx, name, root, onLine)
	return args.Get(0).(verify.StageOutput), args.Error(1)
}

func (m *MockWorkspace) Commit(ctx context.Context, root, message, taskID string) error {
	args := m.Called(ctx, root, message, taskID)
	return args.Error(0)
}

// MockIndexer is a mock implementation of Indexer.
type MockIndexer struct {
	mock.Mock
}

func (m *MockIndexer) Refresh(ctx context.Context, root string, settings config.Config) error {
	args := m.Called(ctx, root, settings)
	return args.Error(0)
}

// MockEscalator is a mock implementation of Escalator.
type MockEscalator struct {
	mock.Mock
}

func (m *MockEscalator) Publish(ctx context.Context, ev escalation.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type fixture struct {
	engine     *Engine
	root       string
	decomposer *MockDecomposer
	preparer   *MockPreparer
	generator  *MockGenerator
	workspace  *MockWorkspace
	indexer    *MockIndexer
	escalator  *MockEscalator
}

func newFixture(t *testing.T, tune func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Orchestration.VerificationStages = []string{"build", "test"}
	cfg.Orchestration.MaxSelfCorrectionAttempts = 1
	cfg.Orchestration.CommitStrategy = config.CommitManual
	if tune != nil {
		tune(cfg)
	}

	f := &fixture{
		root:       t.TempDir(),
		decomposer: &MockDecomposer{},
		preparer:   &MockPreparer{},
		generator:  &MockGenerator{},
		workspace:  &MockWorkspace{},
		indexer:    &MockIndexer{},
		escalator:  &MockEscalator{},
	}
	engine, err := New(Deps{
		Session:    session.New("s-1"),
		Settings:   config.NewStore(cfg),
		Decomposer: f.decomposer,
		Preparer:   f.preparer,
		Generator:  f.generator,
		Workspace:  f.workspace,
		Indexer:    f.indexer,
		Escalator:  f.escalator,
	}, WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }))
	require.NoError(t, err)
	f.engine = engine

	f.preparer.On("Prepare", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("code", "docs", nil).Maybe()
	f.indexer.On("Refresh", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.escalator.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	return f
}

// plan loads the project and admits drafts.
func (f *fixture) plan(t *testing.T, drafts ...taskgraph.Draft) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.engine.LoadProject(ctx, f.root))
	f.decomposer.On("Decompose", mock.Anything, "spec.md").Return(drafts, nil).Once()
	require.NoError(t, f.engine.StartSpec(ctx, "spec.md"))
}

func success(files ...string) taskgraph.GenerationOutcome {
	out := taskgraph.GenerationOutcome{Success: true}
	for _, p := range files {
		out.ChangedFiles = append(out.ChangedFiles, taskgraph.FileChange{Path: p, Content: "package x\n", Action: taskgraph.ChangeCreated})
	}
	return out
}

func pass() verify.StageOutput { return verify.StageOutput{Stdout: "ok\n"} }

func fail(stderr string) verify.StageOutput {
	return verify.StageOutput{Stderr: stderr, ExitCode: 1}
}

func (f *fixture) allStagesPass() {
	f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(nil)
	f.workspace.On("RunStage", mock.Anything, mock.Anything, f.root, mock.Anything).Return(pass(), nil)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestRun_TestStageFailureSelfCorrects(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "implement parser"})

	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("parser.go"), nil).Once()
	f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(nil).Once()
	f.workspace.On("RunStage", mock.Anything, "build", f.root, mock.Anything).Return(pass(), nil).Once()
	f.workspace.On("RunStage", mock.Anything, "test", f.root, mock.Anything).
		Return(fail("--- FAIL: TestParse\n\nexpected 1 got 2\nline3\nline4\nline5\nline6\n"), nil).Once()

	cont := f.engine.iterate(context.Background())
	assert.True(t, cont)

	snap := f.engine.Snapshot()
	assert.Equal(t, taskgraph.SelfCorrecting("T1"), snap.Status)
	assert.Empty(t, snap.ExecutingTaskID)

	task := snap.Task("T1")
	require.NotNil(t, task)
	assert.True(t, task.Status.Is(taskgraph.StatusBlockedByError))
	assert.Contains(t, task.Status.Reason, "code 1")
	assert.Contains(t, task.Status.Reason, "--- FAIL: TestParse")
	assert.NotContains(t, task.Status.Reason, "line6")
	assert.Equal(t, 1, task.CurrentAttemptNumber)
	require.Len(t, task.Attempts, 1)
	assert.Equal(t, 1, task.Attempts[0].VerificationExitCode)
	assert.Contains(t, task.Attempts[0].VerificationStdout, "--- build STDOUT ---")
	assert.Equal(t, "created parser.go", task.Attempts[0].GeneratedSummary)
	f.workspace.AssertExpectations(t)
}

func TestRun_DependencyOrderThenInsertionOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t,
		taskgraph.Draft{ID: "T1", Description: "first"},
		taskgraph.Draft{ID: "T2", Description: "second", Dependencies: []string{"T1"}},
		taskgraph.Draft{ID: "T3", Description: "third"},
	)
	f.allStagesPass()

	var order []string
	f.generator.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.Get(1).(GenerationRequest).Task.ID)
	}).Return(success("a.go"), nil)

	status, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, taskgraph.CompletedGoal(), status)
	assert.Equal(t, []string{"T1", "T2", "T3"}, order)
	f.indexer.AssertNumberOfCalls(t, "Refresh", 3)
}

func TestRun_BudgetExhaustedEscalates(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "implement parser"})

	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("parser.go"), nil).Twice()
	f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(nil)
	f.workspace.On("RunStage", mock.Anything, "build", f.root, mock.Anything).Return(pass(), nil)
	f.workspace.On("RunStage", mock.Anything, "test", f.root, mock.Anything).Return(fail("boom"), nil)

	status, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)

	assert.Equal(t, taskgraph.AwaitingHumanInput("T1", "Task T1 failed after 2 attempts. Needs review."), status)
	task := f.engine.Snapshot().Task("T1")
	assert.True(t, task.Status.Is(taskgraph.StatusFailed))
	assert.Len(t, task.Attempts, 2)
	assert.Equal(t, 2, task.CurrentAttemptNumber)
	f.generator.AssertNumberOfCalls(t, "Generate", 2)
	f.escalator.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(ev escalation.Event) bool {
		return ev.TaskID == "T1" && ev.SessionID == "s-1" && strings.Contains(ev.Prompt, "Needs review")
	}))
	f.indexer.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_HumanResponseResetsTask(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Orchestration.MaxSelfCorrectionAttempts = 0 })
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "implement parser"})
	ctx := context.Background()

	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return(taskgraph.GenerationOutcome{Success: false, Error: "model refused"}, nil).Once()

	status, err := f.engine.RunToCompletion(ctx)
	require.NoError(t, err)
	require.True(t, status.Is(taskgraph.ProjectAwaitingHumanInput))
	f.workspace.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, f.engine.SubmitHumanResponse(ctx, "T1", "use a table-driven parser"))
	snap := f.engine.Snapshot()
	assert.Equal(t, taskgraph.ReadyToExecute(), snap.Status)
	task := snap.Task("T1")
	assert.True(t, task.Status.Is(taskgraph.StatusPending))
	assert.Equal(t, "use a table-driven parser", task.HumanReviewNotes)

	f.allStagesPass()
	f.generator.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerationRequest) bool {
		return req.Task.HumanReviewNotes == "use a table-driven parser" && req.PreviousError == "model refused"
	})).Return(success("parser.go"), nil).Once()

	status, err = f.engine.RunToCompletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, taskgraph.CompletedGoal(), status)
	task = f.engine.Snapshot().Task("T1")
	assert.Equal(t, 2, task.CurrentAttemptNumber)
	assert.Len(t, task.Attempts, 2)
	f.generator.AssertExpectations(t)
}

func TestSubmitHumanResponse_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
	ctx := context.Background()

	err := f.engine.SubmitHumanResponse(ctx, "missing", "hi")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = f.engine.SubmitHumanResponse(ctx, "T1", "hi")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Contains(t, err.Error(), "ReadyToExecute")
}

func TestSubmitHumanResponse_OnlyEscalatedTaskClearsEscalation(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t,
		taskgraph.Draft{ID: "T1", Description: "lexer"},
		taskgraph.Draft{ID: "T2", Description: "parser"},
		taskgraph.Draft{ID: "T3", Description: "docs"},
	)
	ctx := context.Background()
	escalated := taskgraph.AwaitingHumanInput("T1", "Task T1 failed after 1 attempts. Needs review.")
	require.NoError(t, f.engine.Session().Update(ctx, func(tx *session.Tx) error {
		tx.Task("T1").Status = taskgraph.Failed()
		tx.Task("T2").Status = taskgraph.Failed()
		tx.Task("T3").Status = taskgraph.AwaitingHumanClarification()
		tx.Status = escalated
		return nil
	}))

	err := f.engine.SubmitHumanResponse(ctx, "T2", "retry")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Contains(t, err.Error(), "T1")
	snap := f.engine.Snapshot()
	assert.Equal(t, escalated, snap.Status)
	assert.True(t, snap.Task("T2").Status.Is(taskgraph.StatusFailed))

	require.NoError(t, f.engine.SubmitHumanResponse(ctx, "T3", "keep it short"))
	snap = f.engine.Snapshot()
	assert.Equal(t, escalated, snap.Status, "a clarification does not clear another task's escalation")
	assert.True(t, snap.Task("T3").Status.Is(taskgraph.StatusPending))

	require.NoError(t, f.engine.SubmitHumanResponse(ctx, "T1", "split the lexer"))
	assert.Equal(t, taskgraph.ReadyToExecute(), f.engine.Snapshot().Status)
}

func TestGenerationFailure_SkipsVerification(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})

	f.generator.On("Generate", mock.Anything, mock.Anything).Return(taskgraph.GenerationOutcome{}, nil).Once()

	f.engine.iterate(context.Background())

	task := f.engine.Snapshot().Task("T1")
	assert.Equal(t, taskgraph.BlockedByError(correction.DefaultGenerationError), task.Status)
	assert.Equal(t, taskgraph.NoExitCode, task.Attempts[0].VerificationExitCode)
	f.workspace.AssertNotCalled(t, "RunStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGeneratorError_TreatedAsFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})

	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return(taskgraph.GenerationOutcome{}, errors.New("rate limited")).Once()

	f.engine.iterate(context.Background())

	task := f.engine.Snapshot().Task("T1")
	assert.Equal(t, taskgraph.BlockedByError("rate limited"), task.Status)
}

func TestApplyFailure_SkipsVerification(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})

	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("../escape.go"), nil).Once()
	f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(errors.New("path escapes project root")).Once()

	f.engine.iterate(context.Background())

	task := f.engine.Snapshot().Task("T1")
	assert.Equal(t, taskgraph.BlockedByError("Applying changes failed: path escapes project root"), task.Status)
	f.workspace.AssertNotCalled(t, "RunStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipelineError_GoesThroughPolicy(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})

	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil).Once()
	f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(nil).Once()
	f.workspace.On("RunStage", mock.Anything, "build", f.root, mock.Anything).
		Return(verify.StageOutput{}, errors.New("exec: \"go\": executable file not found")).Once()

	assert.True(t, f.engine.iterate(context.Background()))

	snap := f.engine.Snapshot()
	assert.Equal(t, taskgraph.SelfCorrecting("T1"), snap.Status)
	assert.Contains(t, snap.Task("T1").Status.Reason, "Verification stage build could not run")
}

func TestContextFailure_IsNonFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.preparer.ExpectedCalls = nil
	f.preparer.On("Prepare", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", "", errors.New("index offline"))
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
	f.allStagesPass()

	f.generator.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerationRequest) bool {
		return req.CodeContext == "" && req.ReferenceContext == ""
	})).Return(success("a.go"), nil).Once()

	status, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, taskgraph.CompletedGoal(), status)

	var warned bool
	for _, e := range f.engine.Snapshot().Logs.Entries() {
		if e.Level == taskgraph.LevelWarn && strings.Contains(e.Message, "index offline") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestLockReleasedDuringGeneration(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
	f.allStagesPass()

	f.generator.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		snap := f.engine.Snapshot()
		assert.Equal(t, taskgraph.ExecutingTask("T1"), snap.Status)
		assert.Equal(t, "T1", snap.ExecutingTaskID)
		assert.True(t, snap.Task("T1").Status.Is(taskgraph.StatusInProgress))
		assert.Len(t, args.Get(1).(GenerationRequest).Task.Attempts, 1)
	}).Return(success("a.go"), nil).Once()

	f.engine.iterate(context.Background())
	assert.True(t, f.engine.Snapshot().Task("T1").Status.Is(taskgraph.StatusCompletedSuccess))
}

func TestStartProcessing_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("no project loaded", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.engine.StartProcessing(ctx)
		assert.ErrorIs(t, err, apperr.ErrConfiguration)
	})

	t.Run("paused", func(t *testing.T) {
		f := newFixture(t, nil)
		f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
		require.NoError(t, f.engine.Session().Update(ctx, func(tx *session.Tx) error {
			tx.Status = taskgraph.Paused()
			return nil
		}))
		err := f.engine.StartProcessing(ctx)
		require.ErrorIs(t, err, apperr.ErrInvalidState)
		assert.Contains(t, err.Error(), "start_processing")
		assert.Contains(t, err.Error(), "Paused")
	})

	t.Run("second concurrent start", func(t *testing.T) {
		f := newFixture(t, nil)
		f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
		f.allStagesPass()

		release := make(chan struct{})
		entered := make(chan struct{})
		f.generator.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(success("a.go"), nil).Once()

		require.NoError(t, f.engine.StartProcessing(ctx))
		<-entered
		assert.True(t, f.engine.Running())
		err := f.engine.StartProcessing(ctx)
		assert.ErrorIs(t, err, apperr.ErrInvalidState)

		close(release)
		f.engine.Wait()
		assert.False(t, f.engine.Running())
		assert.Equal(t, taskgraph.CompletedGoal(), f.engine.Snapshot().Status)
	})
}

func TestStartSpec_ConfigurationWithoutProject(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.StartSpec(context.Background(), "spec.md")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestStartSpec_RejectsInvalidBatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.engine.LoadProject(ctx, f.root))
	f.decomposer.On("Decompose", mock.Anything, "spec.md").Return([]taskgraph.Draft{
		{ID: "T1", Description: "a"},
		{ID: "T2", Description: "b", Dependencies: []string{"T9"}},
	}, nil).Once()

	err := f.engine.StartSpec(ctx, "spec.md")
	assert.ErrorIs(t, err, apperr.ErrTaskDependency)

	snap := f.engine.Snapshot()
	assert.Equal(t, taskgraph.Idle(), snap.Status)
	assert.Empty(t, snap.Tasks)
}

func TestLoadProject_MissingDirectory(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.LoadProject(context.Background(), "/definitely/not/here")
	assert.ErrorIs(t, err, apperr.ErrConfiguration)
}

func TestLoadProject_ReadsKnownDependencies(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, config.SaveProject(f.root, config.ProjectConfig{
		CodeRoot: ".",
		KnownDependencies: []config.ProjectDependency{
			{Name: "serde", Version: "1", Status: "approved"},
			{Name: "tokio"},
		},
	}))

	require.NoError(t, f.engine.LoadProject(context.Background(), f.root))
	deps := f.engine.Snapshot().KnownDependencies
	require.Len(t, deps, 2)
	assert.Equal(t, taskgraph.ApprovalApproved, deps[0].Status)
	assert.Equal(t, taskgraph.ApprovalPending, deps[1].Status)
}

func TestMissingRootAtLoopEntry_SetsError(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
	require.NoError(t, os.RemoveAll(f.root))

	status, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Is(taskgraph.ProjectError))
	assert.Contains(t, status.Message, f.root)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestCommitPerTask(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Orchestration.CommitStrategy = config.CommitPerTask })
	desc := "implement the streaming tokenizer for the configuration language parser"
	f.plan(t, taskgraph.Draft{ID: "T1", Description: desc})
	f.allStagesPass()
	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)
	f.workspace.On("Commit", mock.Anything, f.root, "task: T1 - "+desc[:50], "T1").Return(nil).Once()

	_, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	f.workspace.AssertExpectations(t)
}

func TestCommitPerFeature(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Orchestration.CommitStrategy = config.CommitPerFeature })
	f.plan(t,
		taskgraph.Draft{ID: "F", Description: "lexer feature"},
		taskgraph.Draft{ID: "F.1", ParentID: "F", Description: "tokens"},
		taskgraph.Draft{ID: "F.2", ParentID: "F", Description: "scanner"},
	)
	f.allStagesPass()
	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)
	f.workspace.On("Commit", mock.Anything, f.root, "feature: F - lexer feature", "F").Return(nil).Once()

	_, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	f.workspace.AssertNumberOfCalls(t, "Commit", 1)
}

func TestBackgroundFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Orchestration.CommitStrategy = config.CommitPerTask })
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "x"})
	f.allStagesPass()
	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)
	f.workspace.On("Commit", mock.Anything, f.root, mock.Anything, "T1").Return(errors.New("no author")).Once()

	status, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, taskgraph.CompletedGoal(), status)

	var logged bool
	for _, e := range f.engine.Snapshot().Logs.Entries() {
		if e.Component == "background" && strings.Contains(e.Message, "no author") {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestAutonomy(t *testing.T) {
	ctx := context.Background()

	t.Run("manual step through pauses after every task", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.Orchestration.AutonomyLevel = config.AutonomyManualStepThrough })
		f.plan(t, taskgraph.Draft{ID: "T1", Description: "a"}, taskgraph.Draft{ID: "T2", Description: "b"})
		f.allStagesPass()
		f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)

		status, err := f.engine.RunToCompletion(ctx)
		require.NoError(t, err)
		assert.Equal(t, taskgraph.Paused(), status)
		f.generator.AssertNumberOfCalls(t, "Generate", 1)

		require.NoError(t, f.engine.Resume(ctx))
		assert.Equal(t, taskgraph.ReadyToExecute(), f.engine.Snapshot().Status)
		assert.ErrorIs(t, f.engine.Resume(ctx), apperr.ErrInvalidState)
	})

	t.Run("manual step through pauses before a retry", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) {
			c.Orchestration.AutonomyLevel = config.AutonomyManualStepThrough
			c.Orchestration.MaxSelfCorrectionAttempts = 1
		})
		f.plan(t, taskgraph.Draft{ID: "T1", Description: "a"}, taskgraph.Draft{ID: "T2", Description: "b"})
		f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(nil)
		f.workspace.On("RunStage", mock.Anything, mock.Anything, f.root, mock.Anything).Return(fail("boom\n"), nil).Once()
		f.workspace.On("RunStage", mock.Anything, mock.Anything, f.root, mock.Anything).Return(pass(), nil)
		f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)

		status, err := f.engine.RunToCompletion(ctx)
		require.NoError(t, err)
		assert.Equal(t, taskgraph.PausedBeforeRetry("T1"), status)
		assert.True(t, f.engine.Snapshot().Task("T1").Status.Is(taskgraph.StatusBlockedByError))

		require.NoError(t, f.engine.Resume(ctx))
		assert.Equal(t, taskgraph.SelfCorrecting("T1"), f.engine.Snapshot().Status)

		status, err = f.engine.RunToCompletion(ctx)
		require.NoError(t, err)
		assert.Equal(t, taskgraph.Paused(), status)
		task := f.engine.Snapshot().Task("T1")
		assert.True(t, task.Status.Is(taskgraph.StatusCompletedSuccess))
		assert.Equal(t, 2, task.CurrentAttemptNumber, "the paused retry ran before any other task")
		assert.True(t, f.engine.Snapshot().Task("T2").Status.Is(taskgraph.StatusPending))
	})

	t.Run("approval checkpoints pause after struct definitions", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.Orchestration.AutonomyLevel = config.AutonomyApprovalCheckpoints })
		f.plan(t,
			taskgraph.Draft{ID: "T1", Description: "a", Type: taskgraph.TypeImplementFunction},
			taskgraph.Draft{ID: "T2", Description: "b", Type: taskgraph.TypeDefineStruct},
			taskgraph.Draft{ID: "T3", Description: "c"},
		)
		f.allStagesPass()
		f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)

		status, err := f.engine.RunToCompletion(ctx)
		require.NoError(t, err)
		assert.Equal(t, taskgraph.Paused(), status)
		f.generator.AssertNumberOfCalls(t, "Generate", 2)
	})
}

func TestStop_HaltsBetweenIterations(t *testing.T) {
	f := newFixture(t, nil)
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "a"}, taskgraph.Draft{ID: "T2", Description: "b"})
	f.allStagesPass()
	f.generator.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		f.engine.Stop()
	}).Return(success("a.go"), nil)

	status, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, taskgraph.ReadyToExecute(), status)
	assert.True(t, f.engine.Snapshot().Task("T1").Status.Is(taskgraph.StatusCompletedSuccess))
	f.generator.AssertNumberOfCalls(t, "Generate", 1)
}

func TestProgressAndOutputObservers(t *testing.T) {
	var (
		mu     sync.Mutex
		phases []Phase
		lines  []verify.Line
	)
	f := newFixture(t, nil)
	f.engine.onLine = func(l verify.Line) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, l)
	}
	f.engine.OnProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, p.Phase)
	})
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "a"})
	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil)
	f.workspace.On("Apply", mock.Anything, f.root, mock.Anything).Return(nil)
	f.workspace.On("RunStage", mock.Anything, mock.Anything, f.root, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(3).(func(verify.Line))(verify.Line{Stage: args.String(1), Stream: verify.Stdout, Text: "ok"})
	}).Return(pass(), nil)

	_, err := f.engine.RunToCompletion(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseSelected, PhaseContext, PhaseGenerate, PhaseApply, PhaseVerify, PhaseMerged}, phases)
	assert.Len(t, lines, 2)
}

func TestRespond_RestartsLoop(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Orchestration.MaxSelfCorrectionAttempts = 0 })
	f.plan(t, taskgraph.Draft{ID: "T1", Description: "a"})
	ctx := context.Background()

	f.generator.On("Generate", mock.Anything, mock.Anything).Return(taskgraph.GenerationOutcome{}, nil).Once()
	_, err := f.engine.RunToCompletion(ctx)
	require.NoError(t, err)

	f.allStagesPass()
	f.generator.On("Generate", mock.Anything, mock.Anything).Return(success("a.go"), nil).Once()
	require.NoError(t, f.engine.Respond(ctx, escalation.Response{TaskID: "T1", Text: "retry"}))
	f.engine.Wait()

	assert.Equal(t, taskgraph.CompletedGoal(), f.engine.Snapshot().Status)
}

func TestCommitFor_Truncation(t *testing.T) {
	s := taskgraph.NewSession("s")
	task := &taskgraph.Task{ID: "T1", Description: strings.Repeat("é", 60)}
	req := commitFor(s, task, config.CommitPerTask)
	require.NotNil(t, req)
	assert.Equal(t, "task: T1 - "+strings.Repeat("é", 50), req.message)
	assert.Nil(t, commitFor(s, task, config.CommitManual))
	assert.Nil(t, commitFor(s, task, config.CommitPerFeature))
}
