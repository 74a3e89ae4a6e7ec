package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", TaskDependency("t2", "t9"))

	assert.True(t, errors.Is(err, ErrTaskDependency))
	assert.False(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, KindTaskDependency, KindOf(err))
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid state names current, expected and operation",
			err:  InvalidState("ExecutingTask", []string{"Idle", "CompletedGoal", "Error"}, "start_processing"),
			want: "start_processing: invalid state ExecutingTask, expected Idle or CompletedGoal or Error",
		},
		{
			name: "dependency",
			err:  TaskDependency("t2", "t9"),
			want: `admit_tasks: task "t2" depends on unknown task "t9"`,
		},
		{
			name: "cycle",
			err:  Cycle([]string{"a", "b", "a"}),
			want: "admit_tasks: circular dependency detected: a -> b -> a",
		},
		{
			name: "configuration",
			err:  Configuration("start_processing", "no project loaded"),
			want: "start_processing: no project loaded",
		},
		{
			name: "verification wraps cause",
			err:  Verification("lint", errors.New("exec: not found")),
			want: `verify: verification stage "lint": could not run: exec: not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("apply", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrIO)
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
