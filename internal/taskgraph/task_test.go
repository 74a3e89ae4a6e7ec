package taskgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_BeginAttempt(t *testing.T) {
	task := &Task{ID: "t1", Status: Pending()}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := task.BeginAttempt(now)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, NoExitCode, first.VerificationExitCode)
	assert.Equal(t, now, first.StartedAt)

	task.BeginAttempt(now)
	assert.Equal(t, 2, task.CurrentAttemptNumber)
	assert.Len(t, task.Attempts, task.CurrentAttemptNumber)
	assert.Equal(t, 2, task.LastAttempt().Number)
}

func TestTask_CloneIsDeep(t *testing.T) {
	task := &Task{ID: "t1", Dependencies: []string{"a"}}
	task.BeginAttempt(time.Now())

	c := task.Clone()
	c.Dependencies[0] = "changed"
	c.Attempts[0].ErrorSummary = "changed"
	c.BeginAttempt(time.Now())

	assert.Equal(t, "a", task.Dependencies[0])
	assert.Empty(t, task.Attempts[0].ErrorSummary)
	assert.Len(t, task.Attempts, 1)
}

func TestTask_ResetByHuman(t *testing.T) {
	task := &Task{ID: "t1"}
	task.BeginAttempt(time.Now())
	task.BeginAttempt(time.Now())
	task.Status = Failed()
	require.Equal(t, 2, task.AttemptsSinceReset())

	task.ResetByHuman("use the builder pattern")

	assert.Equal(t, Pending(), task.Status)
	assert.Equal(t, "use the builder pattern", task.HumanReviewNotes)
	assert.Zero(t, task.AttemptsSinceReset())
	assert.Len(t, task.Attempts, 2, "attempts are never removed")
}

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, Pending().Runnable())
	assert.True(t, Ready().Runnable())
	assert.False(t, BlockedByError("x").Runnable())
	assert.True(t, Failed().Terminal())
	assert.True(t, CompletedSuccess().Terminal())
	assert.False(t, AwaitingHumanClarification().Terminal())
	assert.Equal(t, "BlockedByError(boom)", BlockedByError("boom").String())
	assert.True(t, TypeQualifyCrate.Valid())
	assert.False(t, TaskType("nope").Valid())
}
