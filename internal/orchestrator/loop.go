package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/correction"
	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/logging"
	"github.com/fyrsmithlabs/taskpilot/internal/metrics"
	"github.com/fyrsmithlabs/taskpilot/internal/selector"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

const commitSubjectLen = 50

// commitRequest is a commit decided under the lock and run in the background.
type commitRequest struct {
	message string
	taskID  string
}

// iterate runs one select-execute-merge cycle and reports whether the
// loop should continue.
func (e *Engine) iterate(ctx context.Context) bool {
	settings := e.settings.Snapshot()
	orch := settings.Orchestration
	cmp, err := selector.ForPolicy(orch.SelectionPolicy)
	if err != nil {
		e.store.Log(ctx, taskgraph.LevelWarn, component, err.Error()+", using insertion order", "", nil)
	}
	sel := selector.New(cmp)

	var (
		task     *taskgraph.Task
		root     string
		escalate *escalation.Event
	)
	_ = e.store.Update(ctx, func(tx *session.Tx) error {
		if !tx.Status.In(taskgraph.LoopStatuses...) {
			return nil
		}
		root = tx.ProjectRoot
		res := sel.Select(tx.Tasks, tx.Status, orch.MaxSelfCorrectionAttempts)
		switch {
		case res.Escalate:
			id := tx.Status.TaskID
			if t := tx.Task(id); t != nil && !t.Status.Terminal() {
				t.Status = taskgraph.Failed()
			}
			tx.ExecutingTaskID = ""
			tx.Status = taskgraph.AwaitingHumanInput(id, res.Reason)
			tx.Log(taskgraph.LevelHumanInput, component, res.Reason, id, nil)
			escalate = &escalation.Event{SessionID: tx.ID, TaskID: id, Prompt: res.Reason, CreatedAt: e.now()}
		case !res.Found():
			if len(tx.Tasks) > 0 && tx.AllCompleted() {
				tx.Status = taskgraph.CompletedGoal()
				tx.Log(taskgraph.LevelInfo, component, "All tasks completed", "", nil)
			} else {
				tx.Status = taskgraph.Idle()
				tx.Log(taskgraph.LevelInfo, component, "No runnable tasks remain", "", nil)
			}
		default:
			t := tx.Task(res.TaskID)
			t.Status = taskgraph.InProgress()
			a := t.BeginAttempt(e.now())
			tx.Status = taskgraph.ExecutingTask(t.ID)
			tx.ExecutingTaskID = t.ID
			tx.Log(taskgraph.LevelInfo, component,
				fmt.Sprintf("Executing task %s (attempt %d): %s", t.ID, a.Number, t.Description), t.ID, nil)
			task = t.Clone()
		}
		metrics.RecordStatus(string(tx.Status.Kind))
		return nil
	})

	if escalate != nil {
		metrics.Escalations.Inc()
		e.publishEscalation(ctx, *escalate)
		return false
	}
	if task == nil {
		return false
	}
	metrics.Attempts.Inc()

	decision := e.execute(ctx, task, root, settings)
	return e.merge(ctx, task, decision, orch)
}

// execute runs one attempt on the detached task and records the result in it.
func (e *Engine) execute(ctx context.Context, task *taskgraph.Task, root string, settings config.Config) correction.Decision {
	ctx = logging.WithTaskID(ctx, task.ID)
	ctx = logging.WithAttempt(ctx, task.CurrentAttemptNumber)
	ctx = config.WithSnapshot(ctx, settings)
	ctx, span := e.tracer.Start(ctx, "orchestrator.iteration", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", string(task.Type)),
		attribute.Int("attempt", task.CurrentAttemptNumber),
	))
	defer span.End()

	progress := Progress{SessionID: e.store.ID(), TaskID: task.ID, Attempt: task.CurrentAttemptNumber}
	progress.Phase, progress.Status = PhaseSelected, taskgraph.ExecutingTask(task.ID)
	e.report(progress)

	outcome := e.attempt(ctx, task, root, settings, progress)
	decision := correction.Decide(outcome, task, settings.Orchestration.MaxSelfCorrectionAttempts)
	correction.Record(outcome, decision, task)

	span.SetAttributes(attribute.String("decision", string(decision.Action)))
	if decision.Action != correction.ActionContinue {
		span.SetStatus(codes.Error, decision.Reason)
	}
	return decision
}

func (e *Engine) attempt(ctx context.Context, task *taskgraph.Task, root string, settings config.Config, progress Progress) correction.Outcome {
	var o correction.Outcome

	progress.Phase = PhaseContext
	e.report(progress)
	code, reference, err := e.preparer.Prepare(ctx, task, root, settings)
	if err != nil {
		// Whatever context was returned alongside the error is still used.
		e.store.Log(ctx, taskgraph.LevelWarn, "context", "Context preparation failed: "+err.Error(), task.ID, nil)
	}

	progress.Phase = PhaseGenerate
	e.report(progress)
	gen, err := e.generator.Generate(ctx, GenerationRequest{
		Task:             task,
		CodeContext:      code,
		ReferenceContext: reference,
		PreviousError:    previousError(task),
		Settings:         settings,
		ProjectRoot:      root,
	})
	if err != nil {
		o.GenerationError = err.Error()
		return o
	}
	o.GenerationSucceeded = gen.Success
	o.GenerationError = gen.Error
	o.GeneratedSummary = gen.Summary()
	o.GeneratorNotes = gen.Notes
	if !gen.Success {
		return o
	}
	e.store.Log(ctx, taskgraph.LevelAgentTrace, "generator",
		fmt.Sprintf("Generated %d file changes", len(gen.ChangedFiles)), task.ID, nil)

	progress.Phase = PhaseApply
	e.report(progress)
	if err := e.workspace.Apply(ctx, root, gen.ChangedFiles); err != nil {
		o.ApplyError = err.Error()
		return o
	}

	progress.Phase = PhaseVerify
	e.report(progress)
	res, err := e.driver.Run(ctx, root, settings.Orchestration.VerificationStages, e.onLine)
	if res != nil && len(res.Stages) > 0 {
		o.Verified = true
		o.Stdout = res.Stdout
		o.Stderr = res.Stderr
		o.ExitCode = res.ExitCode
		if f := res.Failed(); f != nil {
			o.FailedStage = f.Name
			o.FailureStderr = f.Stderr
		}
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Stage != "" {
			o.PipelineError = fmt.Sprintf("Verification stage %s could not run: %v", ae.Stage, ae.Err)
		} else {
			o.PipelineError = "Verification could not run: " + err.Error()
		}
	}
	return o
}

// previousError is the failure reason of the attempt before the current one.
func previousError(t *taskgraph.Task) string {
	if len(t.Attempts) < 2 {
		return ""
	}
	return t.Attempts[len(t.Attempts)-2].ErrorSummary
}

// merge writes the task back and decides follow-ups. It reports whether
// the loop should continue.
func (e *Engine) merge(ctx context.Context, task *taskgraph.Task, d correction.Decision, orch config.OrchestrationConfig) bool {
	ctx = logging.WithTaskID(ctx, task.ID)
	var (
		commit   *commitRequest
		refresh  bool
		escalate *escalation.Event
		status   taskgraph.ProjectStatus
		root     string
	)
	err := e.store.Update(ctx, func(tx *session.Tx) error {
		tx.ExecutingTaskID = ""
		if err := tx.ReplaceTask(task); err != nil {
			tx.Status = taskgraph.ErrorStatus(fmt.Sprintf("Task %s disappeared during execution", task.ID))
			tx.Log(taskgraph.LevelError, component, tx.Status.Message, task.ID, nil)
			status = tx.Status
			return err
		}
		root = tx.ProjectRoot
		tx.Status = d.SessionStatus

		switch d.Action {
		case correction.ActionContinue:
			tx.Log(taskgraph.LevelInfo, component, fmt.Sprintf("Task %s completed", task.ID), task.ID, nil)
			metrics.TasksCompleted.WithLabelValues("success").Inc()
			refresh = e.indexer != nil
			commit = commitFor(tx.Session, task, orch.CommitStrategy)
			if pauseAfter(task, orch.AutonomyLevel) {
				tx.Status = taskgraph.Paused()
				tx.Log(taskgraph.LevelInfo, component, "Paused for operator approval after task "+task.ID, task.ID, nil)
			}
		case correction.ActionRetry:
			tx.Log(taskgraph.LevelWarn, component, fmt.Sprintf("Task %s failed, self-correcting: %s", task.ID, d.Reason), task.ID, map[string]any{
				"attempt": task.CurrentAttemptNumber,
			})
			metrics.TasksCompleted.WithLabelValues("retry").Inc()
			if orch.AutonomyLevel == config.AutonomyManualStepThrough {
				tx.Status = taskgraph.PausedBeforeRetry(task.ID)
				tx.Log(taskgraph.LevelInfo, component, "Paused for operator approval before retrying task "+task.ID, task.ID, nil)
			}
		case correction.ActionEscalate:
			tx.Log(taskgraph.LevelError, component, fmt.Sprintf("Task %s failed: %s", task.ID, d.Reason), task.ID, nil)
			tx.Log(taskgraph.LevelHumanInput, component, tx.Status.Message, task.ID, nil)
			metrics.TasksCompleted.WithLabelValues("failed").Inc()
			metrics.Escalations.Inc()
			escalate = &escalation.Event{SessionID: tx.ID, TaskID: task.ID, Prompt: tx.Status.Message, CreatedAt: e.now()}
		}
		status = tx.Status
		return nil
	})
	metrics.RecordStatus(string(status.Kind))
	e.report(Progress{SessionID: e.store.ID(), TaskID: task.ID, Attempt: task.CurrentAttemptNumber, Phase: PhaseMerged, Status: status})
	if err != nil {
		return false
	}

	if commit != nil {
		c := *commit
		e.background(ctx, "commit", c.taskID, func(ctx context.Context) error {
			return e.workspace.Commit(ctx, root, c.message, c.taskID)
		})
	}
	if refresh {
		settings := e.settings.Snapshot()
		e.background(ctx, "refresh", task.ID, func(ctx context.Context) error {
			return e.indexer.Refresh(ctx, root, settings)
		})
	}
	if escalate != nil {
		e.publishEscalation(ctx, *escalate)
	}
	return status.In(taskgraph.LoopStatuses...)
}

// commitFor decides whether completing t triggers a commit.
func commitFor(s *taskgraph.Session, t *taskgraph.Task, strategy config.CommitStrategy) *commitRequest {
	switch strategy {
	case config.CommitPerTask:
		return &commitRequest{
			message: fmt.Sprintf("task: %s - %s", t.ID, truncate(t.Description, commitSubjectLen)),
			taskID:  t.ID,
		}
	case config.CommitPerFeature:
		if t.ParentID == "" {
			return nil
		}
		parent := s.Task(t.ParentID)
		if parent == nil {
			return nil
		}
		for _, id := range parent.SubTaskIDs {
			child := s.Task(id)
			if child == nil || !child.Status.Is(taskgraph.StatusCompletedSuccess) {
				return nil
			}
		}
		return &commitRequest{
			message: fmt.Sprintf("feature: %s - %s", parent.ID, truncate(parent.Description, commitSubjectLen)),
			taskID:  parent.ID,
		}
	}
	return nil
}

// pauseAfter applies the autonomy level to a successful task. Failed
// attempts pause under ManualStepThrough in merge.
func pauseAfter(t *taskgraph.Task, level config.AutonomyLevel) bool {
	switch level {
	case config.AutonomyManualStepThrough:
		return true
	case config.AutonomyApprovalCheckpoints:
		return t.Type == taskgraph.TypeDefineStruct || t.Type == taskgraph.TypeSetupNewCrate
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (e *Engine) publishEscalation(ctx context.Context, ev escalation.Event) {
	if e.escalator == nil {
		return
	}
	e.background(ctx, "escalation", ev.TaskID, func(ctx context.Context) error {
		return e.escalator.Publish(ctx, ev)
	})
}

// background runs fn detached from the loop. Failures are logged only.
func (e *Engine) background(ctx context.Context, kind, taskID string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		err := fn(ctx)
		metrics.RecordBackground(kind, err)
		if err != nil {
			e.store.Log(ctx, taskgraph.LevelWarn, "background", fmt.Sprintf("Background %s failed: %v", kind, err), taskID, nil)
		}
	}()
}
