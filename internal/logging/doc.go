// Package logging provides structured, context-aware logging for taskpilot.
//
// The Logger wraps zap and prepends correlation fields taken from the
// context on every call:
//
//   - trace_id / span_id from the active OpenTelemetry span
//   - session.id, task.id and attempt set by the orchestration loop
//
// Output goes to stdout (JSON or console, with sensitive keys redacted)
// and optionally to an OpenTelemetry log provider through the otelzap
// bridge.
//
// # Usage
//
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	ctx = logging.WithTaskID(ctx, task.ID)
//	logger.Info(ctx, "task dispatched", zap.Int("attempt", n))
//
// # Testing
//
// NewTestLogger records entries in memory:
//
//	tl := logging.NewTestLogger()
//	engine := orchestrator.New(..., orchestrator.WithLogger(tl.Logger))
//	tl.AssertLogged(t, zapcore.InfoLevel, "task dispatched")
package logging
