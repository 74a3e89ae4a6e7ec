// Package session guards the single mutable ProjectSession.
//
// All access goes through one exclusive lock held only for short,
// synchronous updates: selection, status transitions, task merges and log
// appends. Long-running work operates on a detached copy of a task
// (Detach) and writes it back by id (Merge).
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/taskpilot/internal/logging"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

// Observer receives every session log entry after it is stored.
type Observer func(taskgraph.LogEntry)

// Store is the lock-guarded owner of a Session.
type Store struct {
	mu        sync.Mutex
	session   *taskgraph.Session
	logger    *logging.Logger
	observers []Observer
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger mirrors session log entries to logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store for an unloaded session with the given id.
func New(id string, opts ...Option) *Store {
	s := &Store{
		session: taskgraph.NewSession(id),
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ID
}

// Observe registers o for all future log entries.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Tx is the view of the session inside Update. Log entries written through
// it are stored before the lock is released and published after.
type Tx struct {
	*taskgraph.Session
	now     time.Time
	pending []taskgraph.LogEntry
}

// Log records an entry for the session log.
func (tx *Tx) Log(level taskgraph.LogLevel, component, msg, taskID string, details map[string]any) {
	tx.pending = append(tx.pending, taskgraph.LogEntry{
		Timestamp: tx.now,
		Level:     level,
		Component: component,
		Message:   msg,
		TaskID:    taskID,
		Details:   details,
	})
}

// Update runs fn under the session lock. fn must not block.
// Entries logged through tx are kept even when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	pending, observers, err := s.apply(fn)
	s.publish(ctx, pending, observers)
	return err
}

// apply runs fn with the lock held. The lock is released and the logged
// entries stored even if fn panics.
func (s *Store) apply(fn func(tx *Tx) error) (pending []taskgraph.LogEntry, observers []Observer, err error) {
	s.mu.Lock()
	tx := &Tx{Session: s.session, now: s.now()}
	defer func() {
		for _, e := range tx.pending {
			s.session.Logs.Push(e)
		}
		pending, observers = tx.pending, s.observers
		s.mu.Unlock()
	}()
	return nil, nil, fn(tx)
}

// Log appends a single entry.
func (s *Store) Log(ctx context.Context, level taskgraph.LogLevel, component, msg, taskID string, details map[string]any) {
	_ = s.Update(ctx, func(tx *Tx) error {
		tx.Log(level, component, msg, taskID, details)
		return nil
	})
}

// Snapshot returns a deep copy of the session.
func (s *Store) Snapshot() *taskgraph.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// Status returns the current project status.
func (s *Store) Status() taskgraph.ProjectStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Status
}

// Detach returns a copy of the task with id for lock-free work.
func (s *Store) Detach(id string) (*taskgraph.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.session.Task(id)
	if t == nil {
		return nil, errTaskNotFound(id)
	}
	return t.Clone(), nil
}

// Merge writes a detached task back, matched by id.
func (s *Store) Merge(t *taskgraph.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ReplaceTask(t)
}

// Restore replaces the whole session, e.g. from a checkpoint.
func (s *Store) Restore(sess *taskgraph.Session) {
	c := sess.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = c
}

func (s *Store) publish(ctx context.Context, entries []taskgraph.LogEntry, observers []Observer) {
	for _, e := range entries {
		fields := []zap.Field{zap.String("component", e.Component)}
		if e.TaskID != "" {
			fields = append(fields, zap.String("task.id", e.TaskID))
		}
		if len(e.Details) > 0 {
			fields = append(fields, zap.Any("details", e.Details))
		}
		s.logger.Log(ctx, zapLevel(e.Level), e.Message, fields...)
		for _, o := range observers {
			o(e)
		}
	}
}

func zapLevel(l taskgraph.LogLevel) zapcore.Level {
	switch l {
	case taskgraph.LevelDebug:
		return zapcore.DebugLevel
	case taskgraph.LevelWarn:
		return zapcore.WarnLevel
	case taskgraph.LevelError:
		return zapcore.ErrorLevel
	case taskgraph.LevelAgentTrace, taskgraph.LevelLLMTrace:
		return logging.TraceLevel
	}
	return zapcore.InfoLevel
}
