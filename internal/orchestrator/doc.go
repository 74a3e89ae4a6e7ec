// Package orchestrator drives a project session from specification to
// completed task graph.
//
// # Overview
//
// The Engine owns one session.Store and runs a single orchestration loop
// against it. Each iteration:
//
//  1. Snapshots the settings.
//  2. Selects the next task under the session lock and marks it executing.
//  3. Releases the lock, then prepares context, generates code, applies the
//     changes and runs the verification pipeline on a detached copy.
//  4. Applies the self-correction policy to the outcome.
//  5. Re-acquires the lock, merges the task back by id and updates the
//     project status.
//  6. Dispatches commit, index refresh and escalation in the background.
//
// The loop stops when no task is runnable, when a task escalates to a
// human, when autonomy settings pause it, or when Stop is called. Stop
// takes effect between iterations only; an attempt in flight always
// completes and is merged.
//
// # Human input
//
// An exhausted retry budget moves the session to AwaitingHumanInput and
// publishes an escalation.Event. SubmitHumanResponse resets the task to
// Pending with a fresh budget and the session to ReadyToExecute.
//
// # Usage
//
//	engine, err := orchestrator.New(orchestrator.Deps{
//	    Session:    session.New(id),
//	    Settings:   config.NewStore(cfg),
//	    Decomposer: planner.NewPlanFileDecomposer(),
//	    Preparer:   knowledge.NewContextPreparer(index),
//	    Generator:  generator,
//	    Workspace:  workspace.New(settings, logger),
//	})
//	if err := engine.LoadProject(ctx, root); err != nil { ... }
//	if err := engine.StartSpec(ctx, planPath); err != nil { ... }
//	status, err := engine.RunToCompletion(ctx)
package orchestrator
