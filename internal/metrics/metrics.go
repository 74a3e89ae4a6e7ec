// Package metrics exposes Prometheus metrics for orchestration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskpilot"

var (
	// TasksCompleted counts finished attempts by outcome.
	// Labels: outcome (success, retry, failed)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "task_outcomes_total",
			Help:      "Total number of task attempts by policy outcome",
		},
		[]string{"outcome"},
	)

	// Attempts counts dispatched attempts.
	Attempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Total number of task attempts dispatched",
		},
	)

	// Escalations counts transitions to AwaitingHumanInput.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "escalations_total",
			Help:      "Total number of escalations to a human operator",
		},
	)

	// SessionStatus is 1 for the current project status, 0 otherwise.
	// Labels: status
	SessionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "session_status",
			Help:      "Current project status (1 for the active status)",
		},
		[]string{"status"},
	)

	// StageDuration tracks verification stage run time.
	// Labels: stage, result (pass, fail, error)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "stage_duration_seconds",
			Help:      "Duration of verification stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "result"},
	)

	// BackgroundOperations counts fire-and-forget work.
	// Labels: kind (commit, refresh, escalation), result (success, error)
	BackgroundOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "background_operations_total",
			Help:      "Total number of background commit, refresh and escalation operations",
		},
		[]string{"kind", "result"},
	)
)

var statuses = []string{
	"Unloaded", "Idle", "Planning", "ReadyToExecute", "ExecutingTask",
	"AwaitingHumanInput", "SelfCorrecting", "Paused", "Error", "CompletedGoal",
}

// RecordStatus marks status as the active project status.
func RecordStatus(status string) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		SessionStatus.WithLabelValues(s).Set(v)
	}
}

// RecordStage observes a verification stage run.
func RecordStage(stage, result string, d time.Duration) {
	StageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// RecordBackground counts a background operation result.
func RecordBackground(kind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	BackgroundOperations.WithLabelValues(kind, result).Inc()
}
