package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOracleCall(t *testing.T) {
	m := New("test")
	m.OracleCall("anthropic", "quick", "success", 1200, 300, 0.0081, 2*time.Second)
	m.OracleCall("anthropic", "explore", "error", 0, 0, 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("anthropic", "quick", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleCalls.WithLabelValues("anthropic", "explore", "error")))
	assert.Equal(t, 1200.0, testutil.ToFloat64(m.oracleTokens.WithLabelValues("anthropic", "input")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.oracleTokens.WithLabelValues("anthropic", "output")))
	assert.InDelta(t, 0.0081, testutil.ToFloat64(m.oracleCost.WithLabelValues("anthropic")), 1e-9)
}

func TestCounters(t *testing.T) {
	m := New("test")
	m.BudgetDenied("daily_limit_exceeded")
	m.Evaluation("success")
	m.Evaluation("success")
	m.Anomaly("DUPLICATE_ENTRY", "high")
	m.LayoutComparison("high")
	m.StatusChange("verified")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.budgetDenials.WithLabelValues("daily_limit_exceeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues("DUPLICATE_ENTRY", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.layoutChanges.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusChanges.WithLabelValues("verified")))

	n, err := testutil.GatherAndCount(m.Registry)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OracleCall("openai", "quick", "success", 1, 1, 1, time.Second)
		m.BudgetDenied("x")
		m.Evaluation("x")
		m.Anomaly("x", "low")
		m.LayoutComparison("none")
		m.StatusChange("new")
	})
}
