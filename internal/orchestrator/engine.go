package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/logging"
	"github.com/fyrsmithlabs/taskpilot/internal/metrics"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
	"github.com/fyrsmithlabs/taskpilot/internal/verify"
)

const component = "orchestrator"

// startable are the statuses StartProcessing accepts.
var startable = []taskgraph.ProjectKind{
	taskgraph.ProjectIdle,
	taskgraph.ProjectCompletedGoal,
	taskgraph.ProjectError,
	taskgraph.ProjectReadyToExecute,
	taskgraph.ProjectSelfCorrecting,
}

// Engine runs the orchestration loop over one session.
type Engine struct {
	store      *session.Store
	settings   *config.Store
	decomposer Decomposer
	preparer   ContextPreparer
	generator  Generator
	workspace  Workspace
	indexer    Indexer
	escalator  Escalator
	driver     *verify.Driver

	logger     *logging.Logger
	tracer     trace.Tracer
	onLine     func(verify.Line)
	onProgress ProgressCallback
	now        func() time.Time

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	stop    atomic.Bool
	bg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the operator logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer records iteration and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithOutputObserver receives verification output lines as they arrive.
func WithOutputObserver(fn func(verify.Line)) Option {
	return func(e *Engine) { e.onLine = fn }
}

// WithClock overrides the time source for attempts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine. Session, Settings, Decomposer, Preparer, Generator
// and Workspace are required.
func New(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Session == nil:
		return nil, apperr.Configuration("new_engine", "session store is required")
	case deps.Settings == nil:
		return nil, apperr.Configuration("new_engine", "settings store is required")
	case deps.Decomposer == nil:
		return nil, apperr.Configuration("new_engine", "decomposer is required")
	case deps.Preparer == nil:
		return nil, apperr.Configuration("new_engine", "context preparer is required")
	case deps.Generator == nil:
		return nil, apperr.Configuration("new_engine", "generator is required")
	case deps.Workspace == nil:
		return nil, apperr.Configuration("new_engine", "workspace is required")
	}

	e := &Engine{
		store:      deps.Session,
		settings:   deps.Settings,
		decomposer: deps.Decomposer,
		preparer:   deps.Preparer,
		generator:  deps.Generator,
		workspace:  deps.Workspace,
		indexer:    deps.Indexer,
		escalator:  deps.Escalator,
		logger:     logging.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer("taskpilot.orchestrator"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.driver = verify.NewDriver(e.workspace,
		verify.WithTracer(e.tracer),
		verify.WithStageHook(e.logStage),
	)
	return e, nil
}

// OnProgress registers a callback for iteration progress.
func (e *Engine) OnProgress(callback ProgressCallback) {
	e.onProgress = callback
}

func (e *Engine) report(p Progress) {
	if e.onProgress != nil {
		e.onProgress(p)
	}
}

// Session returns the underlying session store.
func (e *Engine) Session() *session.Store {
	return e.store
}

// Snapshot returns a deep copy of the session.
func (e *Engine) Snapshot() *taskgraph.Session {
	return e.store.Snapshot()
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// LoadProject (re)initialises the session for root: tasks and logs are
// cleared, known dependencies are read from the project file and the
// status becomes Idle.
func (e *Engine) LoadProject(ctx context.Context, root string) error {
	if e.Running() {
		return apperr.InvalidState("Running", []string{"stopped loop"}, "load_project")
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return apperr.Configuration("load_project", fmt.Sprintf("project root %q is not a directory", root))
	}
	project, err := config.LoadProject(root)
	if err != nil {
		return apperr.Configuration("load_project", err.Error())
	}

	deps := make([]taskgraph.Dependency, 0, len(project.KnownDependencies))
	for _, d := range project.KnownDependencies {
		status := taskgraph.ApprovalStatus(d.Status)
		if status == "" {
			status = taskgraph.ApprovalPending
		}
		deps = append(deps, taskgraph.Dependency{Name: d.Name, Version: d.Version, Status: status, Notes: d.Notes})
	}

	err = e.store.Update(ctx, func(tx *session.Tx) error {
		tx.Reset(root)
		tx.KnownDependencies = deps
		tx.Log(taskgraph.LevelInfo, component, "Project loaded: "+root, "", map[string]any{
			"known_dependencies": len(deps),
		})
		return nil
	})
	metrics.RecordStatus(string(taskgraph.ProjectIdle))
	return err
}

// StartSpec decomposes spec into tasks and admits them into the session.
// A rejected batch leaves the session Idle with no tasks.
func (e *Engine) StartSpec(ctx context.Context, spec string) error {
	if e.Running() {
		return apperr.InvalidState("Running", []string{"stopped loop"}, "start_spec")
	}
	err := e.store.Update(ctx, func(tx *session.Tx) error {
		if tx.ProjectRoot == "" {
			return apperr.Configuration("start_spec", "no project loaded")
		}
		if !tx.Status.In(taskgraph.ProjectIdle, taskgraph.ProjectCompletedGoal, taskgraph.ProjectError, taskgraph.ProjectReadyToExecute) {
			return apperr.InvalidState(tx.Status.String(), []string{"Idle", "CompletedGoal", "Error", "ReadyToExecute"}, "start_spec")
		}
		tx.Status = taskgraph.Planning()
		tx.ActiveSpec = spec
		tx.Tasks = nil
		tx.Log(taskgraph.LevelInfo, component, "Planning started for "+spec, "", nil)
		return nil
	})
	if err != nil {
		return err
	}
	metrics.RecordStatus(string(taskgraph.ProjectPlanning))

	drafts, err := e.decomposer.Decompose(ctx, spec)
	var tasks []taskgraph.Task
	if err == nil {
		tasks, err = taskgraph.Admit(drafts)
	}

	return e.store.Update(ctx, func(tx *session.Tx) error {
		if err != nil {
			tx.Status = taskgraph.Idle()
			tx.Log(taskgraph.LevelError, component, "Decomposition failed: "+err.Error(), "", nil)
			metrics.RecordStatus(string(taskgraph.ProjectIdle))
			return err
		}
		tx.Tasks = tasks
		tx.Status = taskgraph.ReadyToExecute()
		tx.Log(taskgraph.LevelInfo, component, fmt.Sprintf("Decomposition produced %d tasks", len(tasks)), "", nil)
		metrics.RecordStatus(string(taskgraph.ProjectReadyToExecute))
		return nil
	})
}

// StartProcessing starts the loop in the background. It fails with
// InvalidState when the status does not allow a start or a loop is already
// running, and with Configuration when no project is loaded.
func (e *Engine) StartProcessing(ctx context.Context) error {
	done, err := e.begin(ctx)
	if err != nil {
		return err
	}
	go e.run(ctx, done)
	return nil
}

// RunToCompletion runs the loop on the calling goroutine and returns the
// final project status. Background operations are awaited.
func (e *Engine) RunToCompletion(ctx context.Context) (taskgraph.ProjectStatus, error) {
	done, err := e.begin(ctx)
	if err != nil {
		return e.store.Status(), err
	}
	e.run(ctx, done)
	e.bg.Wait()
	return e.store.Status(), nil
}

// Stop halts the loop before its next iteration. An attempt in flight
// completes first.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// Wait blocks until the loop and its background operations finish.
func (e *Engine) Wait() {
	e.runMu.Lock()
	done := e.done
	e.runMu.Unlock()
	if done != nil {
		<-done
	}
	e.bg.Wait()
}

// Resume moves a Paused session back to ReadyToExecute, or to
// SelfCorrecting when it paused with a retry pending.
func (e *Engine) Resume(ctx context.Context) error {
	return e.store.Update(ctx, func(tx *session.Tx) error {
		if !tx.Status.Is(taskgraph.ProjectPaused) {
			return apperr.InvalidState(tx.Status.String(), []string{"Paused"}, "resume")
		}
		if id := tx.Status.TaskID; id != "" {
			tx.Status = taskgraph.SelfCorrecting(id)
		} else {
			tx.Status = taskgraph.ReadyToExecute()
		}
		tx.Log(taskgraph.LevelInfo, component, "Resumed", tx.Status.TaskID, nil)
		metrics.RecordStatus(string(tx.Status.Kind))
		return nil
	})
}

func (e *Engine) begin(ctx context.Context) (chan struct{}, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return nil, apperr.InvalidState("Running", []string{"stopped loop"}, "start_processing")
	}
	err := e.store.Update(ctx, func(tx *session.Tx) error {
		if tx.ProjectRoot == "" {
			return apperr.Configuration("start_processing", "no project loaded")
		}
		if !tx.Status.In(startable...) {
			expected := make([]string, len(startable))
			for i, k := range startable {
				expected[i] = string(k)
			}
			return apperr.InvalidState(tx.Status.String(), expected, "start_processing")
		}
		if tx.Status.In(taskgraph.ProjectError, taskgraph.ProjectCompletedGoal) {
			tx.Status = taskgraph.ReadyToExecute()
		}
		tx.Log(taskgraph.LevelInfo, component, "Processing started", "", nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.running = true
	e.stop.Store(false)
	e.done = make(chan struct{})
	return e.done, nil
}

func (e *Engine) finish(done chan struct{}) {
	e.runMu.Lock()
	e.running = false
	e.runMu.Unlock()
	close(done)
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer e.finish(done)
	ctx = logging.WithSessionID(ctx, e.store.ID())

	if !e.checkRoot(ctx) {
		return
	}
	for {
		if e.stop.Load() {
			e.store.Log(ctx, taskgraph.LevelInfo, component, "Processing stopped", "", nil)
			return
		}
		if err := ctx.Err(); err != nil {
			e.store.Log(ctx, taskgraph.LevelWarn, component, "Processing cancelled: "+err.Error(), "", nil)
			return
		}
		if !e.iterate(ctx) {
			e.logger.Debug(ctx, "orchestration loop finished", zap.Stringer("status", e.store.Status()))
			return
		}
	}
}

// checkRoot moves the session to Error when the project root vanished.
func (e *Engine) checkRoot(ctx context.Context) bool {
	root := e.store.Snapshot().ProjectRoot
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return true
	}
	msg := fmt.Sprintf("Project root %s is not accessible", root)
	_ = e.store.Update(ctx, func(tx *session.Tx) error {
		tx.Status = taskgraph.ErrorStatus(msg)
		tx.Log(taskgraph.LevelError, component, msg, "", nil)
		return nil
	})
	metrics.RecordStatus(string(taskgraph.ProjectError))
	return false
}

func (e *Engine) logStage(ctx context.Context, r verify.StageResult) {
	level, verdict := taskgraph.LevelInfo, "passed"
	if !r.Passed() {
		level, verdict = taskgraph.LevelWarn, "failed"
	}
	e.store.Log(ctx, level, "verify", fmt.Sprintf("Stage %s %s", r.Name, verdict), logging.TaskIDFromContext(ctx), map[string]any{
		"stage":       r.Name,
		"exit_code":   r.ExitCode,
		"duration_ms": r.Duration.Milliseconds(),
	})
}
