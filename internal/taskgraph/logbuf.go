package taskgraph

import (
	"encoding/json"
	"time"
)

// LogCapacity bounds the session log.
const LogCapacity = 200

// LogLevel is the severity of a session log entry.
type LogLevel string

const (
	LevelDebug      LogLevel = "debug"
	LevelInfo       LogLevel = "info"
	LevelWarn       LogLevel = "warn"
	LevelError      LogLevel = "error"
	LevelAgentTrace LogLevel = "agent_trace"
	LevelHumanInput LogLevel = "human_input"
	LevelLLMTrace   LogLevel = "llm_trace"
)

// LogEntry is one user-visible record of a state transition or stage result.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	TaskID    string         `json:"task_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// LogBuffer is a fixed-capacity ring; pushing onto a full buffer evicts
// the oldest entry. The zero value is not usable, see NewLogBuffer.
type LogBuffer struct {
	entries []LogEntry
	start   int
	size    int
}

// NewLogBuffer returns an empty buffer holding at most capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = LogCapacity
	}
	return &LogBuffer{entries: make([]LogEntry, capacity)}
}

// Push appends e, evicting the oldest entry when full.
func (b *LogBuffer) Push(e LogEntry) {
	idx := (b.start + b.size) % len(b.entries)
	b.entries[idx] = e
	if b.size < len(b.entries) {
		b.size++
		return
	}
	b.start = (b.start + 1) % len(b.entries)
}

// Len returns the number of stored entries.
func (b *LogBuffer) Len() int { return b.size }

// Cap returns the fixed capacity.
func (b *LogBuffer) Cap() int { return len(b.entries) }

// Entries returns stored entries oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	out := make([]LogEntry, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(b.start+i)%len(b.entries)]
	}
	return out
}

// Tail returns the newest n entries oldest first.
func (b *LogBuffer) Tail(n int) []LogEntry {
	all := b.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear drops all entries.
func (b *LogBuffer) Clear() {
	b.start, b.size = 0, 0
	clear(b.entries)
}

// MarshalJSON encodes the entries as an array, oldest first.
func (b *LogBuffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Entries())
}

// UnmarshalJSON restores entries, keeping only the newest when over capacity.
func (b *LogBuffer) UnmarshalJSON(data []byte) error {
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if len(b.entries) == 0 {
		b.entries = make([]LogEntry, LogCapacity)
	}
	b.Clear()
	for _, e := range entries {
		b.Push(e)
	}
	return nil
}
