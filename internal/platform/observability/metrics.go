package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow execution metrics.
var (
	WorkflowExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_executions_total",
		Help: "Total number of workflow executions by final status",
	}, []string{"status"})

	WorkflowStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workflow_step_duration_seconds",
		Help:    "Duration of individual workflow steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "status"})

	WorkflowStepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_step_retries_total",
		Help: "Total number of workflow step retry attempts",
	}, []string{"step"})

	WorkflowStepSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_step_skipped_total",
		Help: "Total number of workflow steps skipped by the status checker gate",
	}, []string{"step", "reason"})
)

// Scheduler metrics.
var (
	ScheduleEntriesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "schedule_entries",
		Help: "Current number of persisted schedule entries",
	})

	ScheduleTriggersFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_triggers_fired_total",
		Help: "Total number of schedule entries that fired",
	}, []string{"step"})
)

// Forum republish metrics.
var (
	ForumPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_publish_attempts_total",
		Help: "Total number of forum publish attempts by result",
	}, []string{"result"})

	ForumPublishPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forum_publish_pending",
		Help: "Current number of articles extracted but not yet republished",
	})
)
