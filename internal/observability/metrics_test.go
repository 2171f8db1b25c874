package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestRunFinishedRecordsStatusAndDuration(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RunStarted()
	m.RunFinished("completed", 2*time.Second, 3)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
}

func TestToolCalledRecordsOutcome(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.ToolCalled("send_message", "success", 10*time.Millisecond)
	m.ToolCalled("send_message", "error", 5*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("send_message", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("send_message", "error")))
}

func TestPolicyBlockedIncrementsReason(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.PolicyBlocked("tool_not_allowed")
	m.PolicyBlocked("tool_not_allowed")
	m.PolicyBlocked("rate_limited")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PolicyBlocksTotal.WithLabelValues("tool_not_allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PolicyBlocksTotal.WithLabelValues("rate_limited")))
}

func TestEventDroppedIncrementsCounter(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.EventDropped()
	m.EventDropped()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventBusDroppedTotal))
}

func TestMetricsGatherableFromRegistry(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RunStarted()
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
