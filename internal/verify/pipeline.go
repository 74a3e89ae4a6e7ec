// Package verify drives an ordered sequence of verification stages.
//
// Stages run strictly in order through a StageRunner and stop at the first
// non-zero exit code. Output of every attempted stage is aggregated into
// combined stdout/stderr buffers, each section headed by the stage name.
// A stage that returns non-zero is a normal result; a stage that cannot be
// started at all is a pipeline error (apperr.KindVerification).
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
	"github.com/fyrsmithlabs/taskpilot/internal/metrics"
)

// Stream identifies stdout or stderr.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of stage output delivered while the stage runs.
type Line struct {
	Stage  string
	Stream Stream
	Text   string
}

// StageOutput is what a runner reports for a finished stage.
type StageOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// StageRunner runs one named stage in a workspace. A non-nil error means the
// stage could not be started; a failing stage returns a non-zero ExitCode.
type StageRunner interface {
	RunStage(ctx context.Context, name, root string, onLine func(Line)) (StageOutput, error)
}

// StageResult is one attempted stage.
type StageResult struct {
	Name     string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Passed reports whether the stage exited zero.
func (r StageResult) Passed() bool {
	return r.ExitCode == 0
}

// Result aggregates the stages attempted by one pipeline run.
type Result struct {
	Stages []StageResult
	// Stdout and Stderr concatenate every attempted stage, labeled by name.
	Stdout string
	Stderr string
	// ExitCode is the last observed exit code, 0 when all stages passed.
	ExitCode int
}

// Failed returns the failing stage, or nil when all passed.
func (r *Result) Failed() *StageResult {
	if len(r.Stages) == 0 {
		return nil
	}
	last := &r.Stages[len(r.Stages)-1]
	if last.Passed() {
		return nil
	}
	return last
}

// StageHook is called after each stage with its result.
type StageHook func(ctx context.Context, r StageResult)

// Driver runs pipelines.
type Driver struct {
	runner  StageRunner
	tracer  trace.Tracer
	onStage StageHook
}

// Option configures a Driver.
type Option func(*Driver)

// WithTracer records one span per stage.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithStageHook registers a per-stage callback, used for the session log.
func WithStageHook(h StageHook) Option {
	return func(d *Driver) { d.onStage = h }
}

// NewDriver returns a driver running stages through runner.
func NewDriver(runner StageRunner, opts ...Option) *Driver {
	d := &Driver{
		runner: runner,
		tracer: noop.NewTracerProvider().Tracer("taskpilot.verify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes stages in order against root, streaming output lines to
// observe (which may be nil). On a pipeline error the partial result of the
// stages that did run is returned alongside the error.
func (d *Driver) Run(ctx context.Context, root string, stages []string, observe func(Line)) (*Result, error) {
	res := &Result{}
	var stdout, stderr strings.Builder

	for _, name := range stages {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("verification cancelled before stage %s: %w", name, err)
		}

		sr, err := d.runStage(ctx, name, root, observe)
		if err != nil {
			return res, apperr.Verification(name, err)
		}

		fmt.Fprintf(&stdout, "\n--- %s STDOUT ---\n%s", name, sr.Stdout)
		fmt.Fprintf(&stderr, "\n--- %s STDERR ---\n%s", name, sr.Stderr)
		res.Stages = append(res.Stages, sr)
		res.ExitCode = sr.ExitCode
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()

		if d.onStage != nil {
			d.onStage(ctx, sr)
		}
		if !sr.Passed() {
			break
		}
	}
	return res, nil
}

func (d *Driver) runStage(ctx context.Context, name, root string, observe func(Line)) (StageResult, error) {
	ctx, span := d.tracer.Start(ctx, "verify.stage", trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	start := time.Now()
	out, err := d.runner.RunStage(ctx, name, root, func(l Line) {
		if observe != nil {
			observe(l)
		}
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage could not run")
		metrics.RecordStage(name, "error", elapsed)
		return StageResult{}, err
	}

	span.SetAttributes(attribute.Int("exit_code", out.ExitCode))
	result := "pass"
	if out.ExitCode != 0 {
		result = "fail"
		span.SetStatus(codes.Error, fmt.Sprintf("exit code %d", out.ExitCode))
	}
	metrics.RecordStage(name, result, elapsed)

	return StageResult{
		Name:     name,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: elapsed,
	}, nil
}
