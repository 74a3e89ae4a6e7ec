// Package escalation carries human-escalation events out of the engine and
// human responses back in.
//
// Two channels are provided: Channel, an in-process channel for the CLI and
// tests, and NATSChannel, which publishes events on <prefix>.escalations and
// subscribes to responses on <prefix>.responses.
package escalation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when publishing on a closed channel.
var ErrClosed = errors.New("escalation channel closed")

// Event is emitted when the session enters AwaitingHumanInput.
type Event struct {
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Response is an operator's answer to an Event.
type Response struct {
	TaskID string `json:"task_id"`
	Text   string `json:"response"`
}

// ResponseHandler applies a human response, typically the engine's
// SubmitHumanResponse.
type ResponseHandler func(ctx context.Context, r Response) error

// Channel is a buffered in-process channel. Publishing never blocks; events
// beyond the buffer are dropped and counted.
type Channel struct {
	mu      sync.RWMutex
	events  chan Event
	closed  bool
	dropped atomic.Int64
}

// NewChannel returns a channel buffering up to size events.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 16
	}
	return &Channel{events: make(chan Event, size)}
}

// Publish enqueues ev without blocking.
func (m *Channel) Publish(_ context.Context, ev Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
	return nil
}

// Events returns the receive side.
func (m *Channel) Events() <-chan Event {
	return m.events
}

// Dropped returns how many events were discarded because the buffer was full.
func (m *Channel) Dropped() int64 {
	return m.dropped.Load()
}

// Close stops the channel; Events is closed.
func (m *Channel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}
