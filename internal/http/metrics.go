package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskpilot/internal/apperr"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/taskpilot/internal/http"

// errorKindKey is the echo context key fail stores the engine error kind under.
const errorKindKey = "taskpilot.error_kind"

// controlActions names the routes that drive the engine.
var controlActions = map[string]string{
	http.MethodPost + " /api/v1/start":          "start",
	http.MethodPost + " /api/v1/resume":         "resume",
	http.MethodPost + " /api/v1/stop":           "stop",
	http.MethodPost + " /api/v1/human-response": "human_response",
	http.MethodPost + " /api/v1/checkpoints":    "checkpoint",
}

// RequestMetrics records control-surface traffic. Every request is counted
// by route and outcome; requests that drive the engine are also counted
// per control action so rejected starts and responses show up by kind.
type RequestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	actions  metric.Int64Counter
}

// NewRequestMetrics creates the instruments on the global meter provider.
func NewRequestMetrics(logger *zap.Logger) *RequestMetrics {
	return newRequestMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *RequestMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RequestMetrics{}
	var err error

	if m.requests, err = meter.Int64Counter(
		"taskpilot.http.requests_total",
		metric.WithDescription("Control surface requests by route and outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram(
		"taskpilot.http.request_duration_seconds",
		metric.WithDescription("Control surface request latency by route"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	); err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	if m.actions, err = meter.Int64Counter(
		"taskpilot.control.actions_total",
		metric.WithDescription("Engine control actions by action and outcome"),
		metric.WithUnit("{action}"),
	); err != nil {
		logger.Warn("failed to create actions counter", zap.Error(err))
	}
	return m
}

// Middleware returns an echo middleware recording the instruments.
func (m *RequestMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo's error handler set the status first.
				c.Error(err)
			}

			ctx := c.Request().Context()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			outcome := requestOutcome(c)

			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(
					attribute.String("route", route),
					attribute.String("outcome", outcome),
				))
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("route", route)))
			}
			if action, ok := controlActions[c.Request().Method+" "+route]; ok && m.actions != nil {
				m.actions.Add(ctx, 1, metric.WithAttributes(
					attribute.String("action", action),
					attribute.String("outcome", outcome),
				))
			}
			return nil
		}
	}
}

// requestOutcome is "ok", the engine error kind fail recorded, or a
// status class for errors that never reached the engine.
func requestOutcome(c echo.Context) string {
	if kind, ok := c.Get(errorKindKey).(apperr.Kind); ok && kind != "" {
		return string(kind)
	}
	switch status := c.Response().Status; {
	case status < http.StatusBadRequest:
		return "ok"
	case status < http.StatusInternalServerError:
		return "rejected"
	default:
		return "internal"
	}
}
