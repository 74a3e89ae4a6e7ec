package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/metrics"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// SubmitHumanResponse answers an escalation or a clarification request
// for taskID. The task returns to Pending with a fresh retry budget and
// the response stored as review notes. The session leaves
// AwaitingHumanInput only when taskID is the escalated task.
func (e *Engine) SubmitHumanResponse(ctx context.Context, taskID, response string) error {
	return e.store.Update(ctx, func(tx *session.Tx) error {
		t := tx.Task(taskID)
		if t == nil {
			return apperr.NotFound("submit_human_response", "task "+taskID)
		}
		awaiting := tx.Status.Is(taskgraph.ProjectAwaitingHumanInput)
		// Checkpoints written before escalations named their task carry
		// no TaskID; any failed task answers those.
		subject := awaiting && (tx.Status.TaskID == "" || tx.Status.TaskID == taskID)
		clarifying := t.Status.Is(taskgraph.StatusAwaitingHumanClarification)
		switch {
		case !subject && !clarifying && awaiting:
			return apperr.InvalidState(tx.Status.String()+" for task "+tx.Status.TaskID, []string{"escalation of task " + taskID}, "submit_human_response")
		case !subject && !clarifying:
			return apperr.InvalidState(tx.Status.String(), []string{string(taskgraph.ProjectAwaitingHumanInput)}, "submit_human_response")
		case subject && !clarifying && !t.Status.In(taskgraph.StatusFailed, taskgraph.StatusBlockedByError):
			return apperr.InvalidState("task "+t.Status.String(), []string{string(taskgraph.StatusFailed), string(taskgraph.StatusAwaitingHumanClarification)}, "submit_human_response")
		}

		t.ResetByHuman(response)
		if subject || tx.Status.In(taskgraph.ProjectIdle, taskgraph.ProjectCompletedGoal) {
			tx.Status = taskgraph.ReadyToExecute()
		}
		tx.Log(taskgraph.LevelHumanInput, component, fmt.Sprintf("Human response received for task %s", taskID), taskID, map[string]any{
			"response": response,
		})
		metrics.RecordStatus(string(tx.Status.Kind))
		return nil
	})
}

// Respond applies r and restarts the loop when none is running. It is
// the handler for escalation channel responses.
func (e *Engine) Respond(ctx context.Context, r escalation.Response) error {
	if err := e.SubmitHumanResponse(ctx, r.TaskID, r.Text); err != nil {
		return err
	}
	err := e.StartProcessing(ctx)
	if err != nil && errors.Is(err, apperr.ErrInvalidState) {
		return nil
	}
	return err
}
