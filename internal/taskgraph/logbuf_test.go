package taskgraph

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_EvictsOldestFirst(t *testing.T) {
	b := NewLogBuffer(LogCapacity)
	for i := 0; i < LogCapacity+25; i++ {
		b.Push(LogEntry{Message: fmt.Sprintf("m%d", i)})
		assert.LessOrEqual(t, b.Len(), LogCapacity)
	}

	entries := b.Entries()
	require.Len(t, entries, LogCapacity)
	assert.Equal(t, "m25", entries[0].Message)
	assert.Equal(t, fmt.Sprintf("m%d", LogCapacity+24), entries[LogCapacity-1].Message)
}

func TestLogBuffer_Tail(t *testing.T) {
	b := NewLogBuffer(3)
	for _, m := range []string{"a", "b", "c", "d"} {
		b.Push(LogEntry{Message: m})
	}

	tail := b.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "c", tail[0].Message)
	assert.Equal(t, "d", tail[1].Message)
	assert.Len(t, b.Tail(0), 3)
}

func TestLogBuffer_JSONKeepsOrder(t *testing.T) {
	b := NewLogBuffer(2)
	b.Push(LogEntry{Message: "a"})
	b.Push(LogEntry{Message: "b"})
	b.Push(LogEntry{Message: "c"})

	data, err := json.Marshal(b)
	require.NoError(t, err)

	restored := &LogBuffer{}
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, []string{"b", "c"}, messages(restored.Entries()))
}

func TestSession_ResetClearsTasksAndLogs(t *testing.T) {
	s := NewSession("s1")
	s.Tasks = []Task{{ID: "t1"}}
	s.ExecutingTaskID = "t1"
	s.Logs.Push(LogEntry{Message: "x"})

	s.Reset("/work")

	assert.Equal(t, Idle(), s.Status)
	assert.Empty(t, s.Tasks)
	assert.Empty(t, s.ExecutingTaskID)
	assert.Zero(t, s.Logs.Len())
	assert.Equal(t, "/work", s.ProjectRoot)
}

func TestSession_ReplaceTask(t *testing.T) {
	s := NewSession("s1")
	s.Tasks = []Task{{ID: "t1", Status: Pending()}}

	detached := s.Task("t1").Clone()
	detached.Status = CompletedSuccess()
	require.NoError(t, s.ReplaceTask(detached))
	assert.Equal(t, CompletedSuccess(), s.Task("t1").Status)

	assert.Error(t, s.ReplaceTask(&Task{ID: "ghost"}))
}

func messages(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
