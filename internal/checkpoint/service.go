package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

const instrumentationName = "github.com/fyrsmithlabs/taskpilot/internal/checkpoint"

// DefaultMaxCheckpoints bounds how many checkpoints a session keeps.
const DefaultMaxCheckpoints = 10

// Service saves and restores session checkpoints in a directory.
type Service struct {
	dir    string
	max    int
	logger *zap.Logger
	now    func() time.Time

	tracer        trace.Tracer
	saveCounter   metric.Int64Counter
	resumeCounter metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxCheckpoints sets how many checkpoints are kept per session; zero
// keeps all.
func WithMaxCheckpoints(n int) Option {
	return func(s *Service) { s.max = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the checkpoint directory if needed.
func NewService(dir string, opts ...Option) (*Service, error) {
	if dir == "" {
		return nil, apperr.Configuration("checkpoint", "checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apperr.IO("checkpoint", err)
	}
	s := &Service{
		dir:    dir,
		max:    DefaultMaxCheckpoints,
		logger: zap.NewNop(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	s.saveCounter, err = meter.Int64Counter(
		"taskpilot.checkpoint.saves_total",
		metric.WithDescription("Total number of checkpoints saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
	s.resumeCounter, err = meter.Int64Counter(
		"taskpilot.checkpoint.restores_total",
		metric.WithDescription("Total number of checkpoint restores"),
		metric.WithUnit("{restore}"),
	)
	if err != nil {
		s.logger.Warn("failed to create restore counter", zap.Error(err))
	}
}

// Save writes a snapshot of store under a new id.
func (s *Service) Save(ctx context.Context, store *session.Store, name string) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	snap := store.Snapshot()
	cp := &Checkpoint{
		ID:          uuid.New().String(),
		Name:        name,
		SessionID:   snap.ID,
		ProjectRoot: snap.ProjectRoot,
		Status:      snap.Status,
		CreatedAt:   s.now().UTC(),
		Session:     snap,
	}
	span.SetAttributes(
		attribute.String("session_id", cp.SessionID),
		attribute.String("checkpoint_id", cp.ID),
	)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := writeAtomic(s.path(cp.ID), data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.IO("checkpoint_save", err)
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}
	s.logger.Info("saved checkpoint",
		zap.String("id", cp.ID),
		zap.String("session_id", cp.SessionID),
		zap.String("status", cp.Status.String()),
	)

	if err := s.prune(ctx, cp.SessionID); err != nil {
		s.logger.Warn("pruning checkpoints failed", zap.Error(err))
	}
	return cp, nil
}

// List returns checkpoints newest first. An empty sessionID lists all.
// Unreadable files are skipped.
func (s *Service) List(ctx context.Context, sessionID string) ([]Summary, error) {
	_, span := s.tracer.Start(ctx, "checkpoint.list")
	defer span.End()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.IO("checkpoint_list", err)
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		cp, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Debug("skipping unreadable checkpoint", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		if sessionID != "" && cp.SessionID != sessionID {
			continue
		}
		out = append(out, cp.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// Get loads a checkpoint by id.
func (s *Service) Get(ctx context.Context, id string) (*Checkpoint, error) {
	_, span := s.tracer.Start(ctx, "checkpoint.get", trace.WithAttributes(attribute.String("checkpoint_id", id)))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("checkpoint_get", "checkpoint "+id)
	}
	cp, err := s.read(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("checkpoint_get", "checkpoint "+id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return cp, nil
}

// Restore loads checkpoint id into store. An interrupted task is put back
// to Pending and the session to ReadyToExecute.
func (s *Service) Restore(ctx context.Context, store *session.Store, id string) (*Checkpoint, error) {
	ctx, span := s.tracer.Start(ctx, "checkpoint.restore", trace.WithAttributes(attribute.String("checkpoint_id", id)))
	defer span.End()

	cp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	Rewind(cp.Session)
	store.Restore(cp.Session)
	store.Log(ctx, taskgraph.LevelInfo, "checkpoint", "Session restored from checkpoint "+cp.ID, "", nil)

	if s.resumeCounter != nil {
		s.resumeCounter.Add(ctx, 1)
	}
	return cp, nil
}

// Rewind makes sess safe to resume: nothing is left in progress.
func Rewind(sess *taskgraph.Session) {
	if sess.Logs == nil {
		sess.Logs = taskgraph.NewLogBuffer(taskgraph.LogCapacity)
	}
	for i := range sess.Tasks {
		if sess.Tasks[i].Status.Is(taskgraph.StatusInProgress) {
			sess.Tasks[i].Status = taskgraph.Pending()
		}
	}
	if sess.Status.Is(taskgraph.ProjectExecutingTask) {
		if t := sess.Task(sess.Status.TaskID); t != nil {
			t.Status = taskgraph.Pending()
		}
		sess.Status = taskgraph.ReadyToExecute()
	}
	sess.ExecutingTaskID = ""
}

// Delete removes checkpoint id.
func (s *Service) Delete(_ context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("checkpoint_delete", "checkpoint "+id)
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return apperr.NotFound("checkpoint_delete", "checkpoint "+id)
	}
	if err != nil {
		return apperr.IO("checkpoint_delete", err)
	}
	return nil
}

func (s *Service) prune(ctx context.Context, sessionID string) error {
	if s.max <= 0 {
		return nil
	}
	list, err := s.List(ctx, sessionID)
	if err != nil {
		return err
	}
	for i := s.max; i < len(list); i++ {
		if err := s.Delete(ctx, list[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Service) read(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, apperr.Configuration("checkpoint_read", fmt.Sprintf("%s: %v", filepath.Base(path), err))
	}
	if cp.Session == nil {
		return nil, apperr.Configuration("checkpoint_read", filepath.Base(path)+" has no session")
	}
	return &cp, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Bound is a Service tied to one session store.
type Bound struct {
	svc   *Service
	store *session.Store
}

// For binds s to store.
func (s *Service) For(store *session.Store) *Bound {
	return &Bound{svc: s, store: store}
}

// Save checkpoints the bound session.
func (b *Bound) Save(ctx context.Context, name string) (*Checkpoint, error) {
	return b.svc.Save(ctx, b.store, name)
}

// List returns the bound session's checkpoints, newest first.
func (b *Bound) List(ctx context.Context) ([]Summary, error) {
	return b.svc.List(ctx, b.store.ID())
}
