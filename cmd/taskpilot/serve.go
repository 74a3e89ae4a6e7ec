package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/escalation"
	api "github.com/fyrsmithlabs/taskpilot/internal/http"
	"github.com/fyrsmithlabs/taskpilot/internal/mcp"
)

var (
	// serve command flags
	serveProject string
	serveHost    string
	serveMCP     bool
	serveWatch   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveProject, "project", "", "Project root to load at startup")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "HTTP listen host")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Serve MCP over stdio instead of HTTP")
	serveCmd.Flags().BoolVar(&serveWatch, "watch-config", true, "Reload settings when the settings file changes")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over HTTP or MCP",
	Long: `Start a long-running engine and expose it for control.

By default the HTTP API listens on server.port. With --mcp the engine is
served as MCP tools over stdin/stdout and logs go to stderr.

When escalation is enabled, human responses published on
<subject_prefix>.responses are applied and the loop restarted.

Examples:
  # HTTP control surface with a project preloaded
  taskpilot serve --project ./calc

  # MCP server for an editor or agent
  taskpilot serve --mcp --project ./calc`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, appOptions{stderrLogs: serveMCP})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	zl := a.logger.Underlying()

	if serveProject != "" {
		if err := a.engine.LoadProject(ctx, serveProject); err != nil {
			return err
		}
	}

	if a.nats != nil {
		if err := a.nats.Subscribe(ctx, a.engine.Respond); err != nil {
			return fmt.Errorf("subscribing to human responses: %w", err)
		}
		zl.Info("listening for human responses", zap.String("subject", a.nats.ResponsesSubject()))
	}
	if a.local != nil {
		go logEscalations(ctx, a.local, zl)
	}

	if serveWatch && configPath != "" {
		err := a.settings.Watch(ctx, configPath, func(err error) {
			zl.Warn("settings reload rejected", zap.Error(err))
		})
		if err != nil {
			zl.Warn("settings file not watched", zap.String("path", configPath), zap.Error(err))
		}
	}

	var serveErr error
	if serveMCP {
		serveErr = serveStdio(ctx, a, zl)
	} else {
		serveErr = serveHTTP(ctx, a, zl)
	}

	a.engine.Stop()
	shutdown := a.settings.Snapshot().Server.ShutdownTimeout.Duration()
	waitFor(a.engine.Wait, shutdown)
	a.saveCheckpoint(context.WithoutCancel(ctx), "shutdown")
	return serveErr
}

func serveStdio(ctx context.Context, a *app, zl *zap.Logger) error {
	srv, err := mcp.NewServer(&mcp.Config{Name: "taskpilot", Version: version, Logger: zl}, a.engine, a.searcher())
	if err != nil {
		return err
	}
	zl.Info("serving MCP over stdio")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveHTTP(ctx context.Context, a *app, zl *zap.Logger) error {
	cfg := a.settings.Snapshot()
	opts := []api.Option{
		api.WithBaseContext(ctx),
		api.WithMetrics(api.NewRequestMetrics(zl)),
	}
	if a.checkpoints != nil {
		opts = append(opts, api.WithCheckpoints(a.checkpoints.For(a.store)))
	}
	srv, err := api.NewServer(a.engine, zl, &api.Config{Host: serveHost, Port: cfg.Server.Port}, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// logEscalations reports in-process escalation events until ctx is done.
func logEscalations(ctx context.Context, ch *escalation.Channel, zl *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				return
			}
			zl.Warn("human input required",
				zap.String("session_id", ev.SessionID),
				zap.String("task_id", ev.TaskID),
				zap.String("prompt", ev.Prompt))
		}
	}
}

// waitFor runs fn and gives up after d.
func waitFor(fn func(), d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
