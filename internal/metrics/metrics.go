// Package metrics holds the Prometheus collectors for workflow execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the orchestrator collectors. A nil *Metrics is valid and
// records nothing, so components can run without a registry in tests.
type Metrics struct {
	tasks           *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	taskRetries     *prometheus.CounterVec
	workflows       *prometheus.CounterVec
	workflowsActive prometheus.Gauge
	events          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmxpert",
			Name:      "tasks_total",
			Help:      "Tasks reaching a terminal state, by adapter and status.",
		}, []string{"adapter", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "farmxpert",
			Name:      "task_duration_seconds",
			Help:      "Wall time from task start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"adapter"}),
		taskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmxpert",
			Name:      "task_retries_total",
			Help:      "Adapter invocations retried after a transient error.",
		}, []string{"adapter"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmxpert",
			Name:      "workflows_total",
			Help:      "Finished workflows by outcome (ok, degraded, failed, canceled).",
		}, []string{"outcome"}),
		workflowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "farmxpert",
			Name:      "workflows_active",
			Help:      "Workflows currently running.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmxpert",
			Name:      "events_total",
			Help:      "Delivery events published, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.tasks, m.taskDuration, m.taskRetries, m.workflows, m.workflowsActive, m.events)
	return m
}

func (m *Metrics) TaskFinished(adapter, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(adapter, status).Inc()
	m.taskDuration.WithLabelValues(adapter).Observe(d.Seconds())
}

func (m *Metrics) TaskRetried(adapter string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(adapter).Inc()
}

func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsActive.Inc()
}

func (m *Metrics) WorkflowFinished(outcome string) {
	if m == nil {
		return
	}
	m.workflowsActive.Dec()
	m.workflows.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}
