package metrics_test

import (
	"testing"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsTaskOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.TaskFinished("soil_health", "completed", 120*time.Millisecond)
	m.TaskFinished("soil_health", "failed", time.Second)
	m.TaskRetried("soil_health")
	m.WorkflowStarted()
	m.WorkflowFinished("degraded")
	m.EventPublished("partial")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["farmxpert_tasks_total"])
	assert.True(t, names["farmxpert_task_duration_seconds"])
	assert.True(t, names["farmxpert_workflows_total"])

	count, err := testutil.GatherAndCount(reg, "farmxpert_tasks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.TaskFinished("a", "completed", time.Second)
		m.TaskRetried("a")
		m.WorkflowStarted()
		m.WorkflowFinished("ok")
		m.EventPublished("complete")
	})
}
