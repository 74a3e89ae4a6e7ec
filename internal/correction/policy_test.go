package correction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

func attempted(id string, n int) *taskgraph.Task {
	t := &taskgraph.Task{ID: id, Status: taskgraph.InProgress()}
	for i := 0; i < n; i++ {
		t.BeginAttempt(time.Now())
	}
	return t
}

func TestDecide_Success(t *testing.T) {
	d := Decide(Outcome{GenerationSucceeded: true, Verified: true}, attempted("t1", 1), 3)

	assert.Equal(t, taskgraph.CompletedSuccess(), d.TaskStatus)
	assert.Equal(t, taskgraph.ReadyToExecute(), d.SessionStatus)
	assert.Equal(t, ActionContinue, d.Action)
}

func TestDecide_GenerationFailureIgnoresVerification(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		reason  string
	}{
		{
			name:    "with message",
			outcome: Outcome{GenerationError: "model refused", Verified: true, ExitCode: 0},
			reason:  "model refused",
		},
		{
			name:    "without message",
			outcome: Outcome{Verified: true, ExitCode: 2},
			reason:  DefaultGenerationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.outcome, attempted("t1", 1), 3)
			assert.Equal(t, taskgraph.BlockedByError(tt.reason), d.TaskStatus)
		})
	}
}

// Build passes, test exits 1; budget remains so the session self-corrects.
func TestDecide_VerificationFailureRetries(t *testing.T) {
	o := Outcome{
		GenerationSucceeded: true,
		Verified:            true,
		ExitCode:            1,
		FailedStage:         "test",
		FailureStderr:       "l1\nl2\n\nl3\nl4\nl5\nl6\nl7",
	}

	d := Decide(o, attempted("T1", 1), 1)

	require.Equal(t, taskgraph.StatusBlockedByError, d.TaskStatus.Kind)
	assert.Contains(t, d.TaskStatus.Reason, "code 1")
	assert.Contains(t, d.TaskStatus.Reason, "l5")
	assert.NotContains(t, d.TaskStatus.Reason, "l6")
	assert.Equal(t, taskgraph.SelfCorrecting("T1"), d.SessionStatus)
	assert.Equal(t, ActionRetry, d.Action)
}

// Budget 1, second failure escalates.
func TestDecide_BudgetExhaustedEscalates(t *testing.T) {
	o := Outcome{GenerationSucceeded: true, Verified: true, ExitCode: 1, Stderr: "boom"}

	d := Decide(o, attempted("T1", 2), 1)

	assert.Equal(t, taskgraph.Failed(), d.TaskStatus)
	assert.Equal(t, taskgraph.AwaitingHumanInput("T1", "Task T1 failed after 2 attempts. Needs review."), d.SessionStatus)
	assert.Equal(t, ActionEscalate, d.Action)
}

func TestDecide_ZeroBudgetFailsImmediately(t *testing.T) {
	d := Decide(Outcome{GenerationError: "x"}, attempted("t1", 1), 0)
	assert.Equal(t, taskgraph.Failed(), d.TaskStatus)
}

func TestDecide_BudgetCountsFromHumanReset(t *testing.T) {
	task := attempted("t1", 2)
	task.ResetByHuman("try again")
	task.BeginAttempt(time.Now())

	d := Decide(Outcome{GenerationError: "x"}, task, 1)
	assert.Equal(t, ActionRetry, d.Action)
}

// For every budget n, the task becomes Failed exactly at failure n+1.
func TestDecide_FailsAfterBudgetPlusOne(t *testing.T) {
	for n := 0; n <= 5; n++ {
		task := &taskgraph.Task{ID: "t"}
		var d Decision
		for i := 1; i <= n+1; i++ {
			task.BeginAttempt(time.Now())
			d = Decide(Outcome{GenerationError: "x"}, task, n)
			if i <= n {
				require.Equal(t, ActionRetry, d.Action, "n=%d attempt=%d", n, i)
			}
		}
		assert.Equal(t, ActionEscalate, d.Action, "n=%d", n)
		assert.Equal(t, taskgraph.Failed(), d.TaskStatus)
	}
}

func TestDecide_IsPure(t *testing.T) {
	task := attempted("t1", 1)
	o := Outcome{GenerationSucceeded: true, Verified: true, ExitCode: 3, Stderr: "x"}

	first := Decide(o, task, 2)
	second := Decide(o, task, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, taskgraph.InProgress(), task.Status)
}

func TestDecide_ApplyAndPipelineErrors(t *testing.T) {
	d := Decide(Outcome{GenerationSucceeded: true, ApplyError: "path escapes root"}, attempted("t1", 1), 1)
	assert.Equal(t, "Applying changes failed: path escapes root", d.TaskStatus.Reason)

	d = Decide(Outcome{GenerationSucceeded: true, PipelineError: "Verification stage lint could not run"}, attempted("t1", 1), 1)
	assert.Equal(t, "Verification stage lint could not run", d.TaskStatus.Reason)
}

func TestRecord(t *testing.T) {
	task := attempted("t1", 1)
	o := Outcome{
		GenerationSucceeded: true,
		GeneratedSummary:    "wrote main.go",
		Verified:            true,
		ExitCode:            1,
		Stdout:              "out",
		Stderr:              "err",
	}
	d := Decide(o, task, 1)

	Record(o, d, task)

	a := task.LastAttempt()
	assert.Equal(t, 1, a.VerificationExitCode)
	assert.Equal(t, "out", a.VerificationStdout)
	assert.Equal(t, d.Reason, a.ErrorSummary)
	assert.Equal(t, "wrote main.go", task.LastGeneratedOutput)
	assert.Equal(t, d.TaskStatus, task.Status)
}

func TestRecord_SkippedVerification(t *testing.T) {
	task := attempted("t1", 1)
	o := Outcome{GenerationError: "nope"}

	Record(o, Decide(o, task, 0), task)
	assert.Equal(t, taskgraph.NoExitCode, task.LastAttempt().VerificationExitCode)
}

func TestFirstLines(t *testing.T) {
	assert.Equal(t, "a\nb", FirstLines("a\n\nb\nc", 2))
	assert.Equal(t, "", FirstLines("", 5))
}
