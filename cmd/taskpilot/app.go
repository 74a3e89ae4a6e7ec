package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/checkpoint"
	"github.com/fyrsmithlabs/taskpilot/internal/config"
	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	"github.com/fyrsmithlabs/taskpilot/internal/knowledge"
	"github.com/fyrsmithlabs/taskpilot/internal/logging"
	"github.com/fyrsmithlabs/taskpilot/internal/orchestrator"
	"github.com/fyrsmithlabs/taskpilot/internal/planner"
	"github.com/fyrsmithlabs/taskpilot/internal/session"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
	"github.com/fyrsmithlabs/taskpilot/internal/telemetry"
	"github.com/fyrsmithlabs/taskpilot/internal/verify"
	"github.com/fyrsmithlabs/taskpilot/internal/workspace"
)

// appOptions adjust wiring per command.
type appOptions struct {
	// stderrLogs keeps stdout free for command output or a stdio protocol.
	stderrLogs bool
	onLine     func(verify.Line)
}

// app holds every long-lived dependency of a command.
type app struct {
	settings    *config.Store
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
	store       *session.Store
	index       *knowledge.Index
	engine      *orchestrator.Engine
	checkpoints *checkpoint.Service

	natsConn *nats.Conn
	nats     *escalation.NATSChannel
	local    *escalation.Channel
}

// newApp loads settings from path and wires the engine.
//
// Order matters:
//  1. Settings, then telemetry, then the logger that may export through it
//  2. Session store and knowledge index
//  3. Model clients, decomposer and generator
//  4. Escalation channel (NATS when enabled)
//  5. Checkpoint service and engine
func newApp(ctx context.Context, path string, opts appOptions) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format, cfg.Observability.EnableTelemetry)
	if err != nil {
		return nil, fmt.Errorf("invalid logging settings: %w", err)
	}
	logCfg.Output.Stderr = opts.stderrLogs
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	zl := logger.Underlying()

	a := &app{
		settings:  config.NewStore(cfg),
		logger:    logger,
		telemetry: tel,
	}
	a.store = session.New(uuid.NewString(), session.WithLogger(logger))

	if err := a.initKnowledge(cfg, zl); err != nil {
		a.Close(ctx)
		return nil, err
	}

	primary, err := planner.NewOpenAIModel(cfg.Generator, cfg.Generator.Tier1Model)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	fast, err := planner.NewOpenAIModel(cfg.Generator, cfg.Generator.Tier2Model)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	escalator, err := a.initEscalation(cfg, zl)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.Checkpoint.Enabled {
		a.checkpoints, err = checkpoint.NewService(cfg.Checkpoint.Dir, checkpoint.WithLogger(zl))
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("initializing checkpoints: %w", err)
		}
	}

	deps := orchestrator.Deps{
		Session:  a.store,
		Settings: a.settings,
		Decomposer: planner.Router{
			Plans: planner.NewPlanFileDecomposer(),
			Model: planner.NewLLMDecomposer(primary, cfg.Generator, zl),
		},
		Preparer:  knowledge.NewContextPreparer(a.index),
		Generator: planner.NewLLMGenerator(primary, fast, cfg.Generator, zl),
		Workspace: workspace.New(a.settings, zl),
		Indexer:   a.index,
		Escalator: escalator,
	}
	engineOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tel.Tracer("taskpilot.orchestrator")),
	}
	if opts.onLine != nil {
		engineOpts = append(engineOpts, orchestrator.WithOutputObserver(opts.onLine))
	}
	a.engine, err = orchestrator.New(deps, engineOpts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.engine.OnProgress(func(p orchestrator.Progress) {
		zl.Debug("progress",
			zap.String("task_id", p.TaskID),
			zap.Int("attempt", p.Attempt),
			zap.String("phase", string(p.Phase)),
			zap.String("status", p.Status.String()))
	})

	logger.Info(ctx, "taskpilot initialized",
		zap.String("session_id", a.store.ID()),
		zap.String("generator", cfg.Generator.Provider),
		zap.Bool("knowledge", cfg.Knowledge.Enabled),
		zap.Bool("nats_escalation", a.nats != nil),
		zap.Bool("checkpoints", a.checkpoints != nil))
	return a, nil
}

func (a *app) initKnowledge(cfg *config.Config, zl *zap.Logger) error {
	opts := []knowledge.Option{
		knowledge.WithLogger(zl),
		knowledge.WithTracer(a.telemetry.Tracer("taskpilot.knowledge")),
	}
	if cfg.Knowledge.EmbedModel != "" {
		embed, err := knowledge.RemoteEmbedder(cfg.Generator, cfg.Knowledge.EmbedModel)
		if err != nil {
			return fmt.Errorf("initializing embedder: %w", err)
		}
		opts = append(opts, knowledge.WithEmbeddingFunc(embed))
	}
	if cfg.Knowledge.Path == "" {
		a.index = knowledge.New(cfg.Knowledge, opts...)
		return nil
	}
	index, err := knowledge.Open(cfg.Knowledge.Path, cfg.Knowledge, opts...)
	if err != nil {
		return fmt.Errorf("initializing knowledge index: %w", err)
	}
	a.index = index
	return nil
}

// initEscalation connects to NATS when enabled and falls back to an
// in-process channel otherwise.
func (a *app) initEscalation(cfg *config.Config, zl *zap.Logger) (orchestrator.Escalator, error) {
	if !cfg.Escalation.Enabled {
		a.local = escalation.NewChannel(16)
		return a.local, nil
	}
	nc, err := nats.Connect(cfg.Escalation.NATSURL,
		nats.Name("taskpilot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Escalation.NATSURL, err)
	}
	zl.Info("Connected to NATS", zap.String("url", cfg.Escalation.NATSURL))
	a.natsConn = nc
	a.nats = escalation.NewNATS(nc, cfg.Escalation.SubjectPrefix, zl)
	return a.nats, nil
}

// searcher returns the index as a knowledge.Searcher, or nil when the
// index is disabled.
func (a *app) searcher() knowledge.Searcher {
	if a.index == nil || !a.settings.Snapshot().Knowledge.Enabled {
		return nil
	}
	return a.index
}

// saveCheckpoint stores the session when checkpoints are enabled and a
// project is loaded. Failures are logged only.
func (a *app) saveCheckpoint(ctx context.Context, name string) {
	if a.checkpoints == nil || a.store.Status().Is(taskgraph.ProjectUnloaded) {
		return
	}
	cp, err := a.checkpoints.Save(ctx, a.store, name)
	if err != nil {
		a.logger.Warn(ctx, "failed to save checkpoint", zap.Error(err))
		return
	}
	a.logger.Info(ctx, "checkpoint saved", zap.String("checkpoint_id", cp.ID), zap.String("name", name))
}

// Close releases resources in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn(ctx, "closing escalation subscription", zap.Error(err))
		}
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
	if a.local != nil {
		_ = a.local.Close()
	}
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
}
