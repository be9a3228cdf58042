// Package metrics exposes Prometheus collectors for oracle spend, budget
// denials, evaluations and anomalies.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the learner's collectors. A nil *Metrics is valid and
// records nothing, so components take it as an optional dependency.
type Metrics struct {
	Registry *prometheus.Registry

	oracleCalls   *prometheus.CounterVec
	oracleTokens  *prometheus.CounterVec
	oracleCost    *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec
	budgetDenials *prometheus.CounterVec
	evaluations   *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	layoutChanges *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
}

// New registers all collectors on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		oracleCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls by provider, phase and result.",
		}, []string{"provider", "phase", "result"}),
		oracleTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Tokens consumed by oracle calls.",
		}, []string{"provider", "direction"}),
		oracleCost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_cost_usd_total",
			Help:      "Estimated oracle spend in USD.",
		}, []string{"provider"}),
		oracleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Wall time of oracle calls including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		budgetDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_denials_total",
			Help:      "Oracle calls refused by the budget ledger.",
		}, []string{"reason"}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Orchestrator evaluations by outcome.",
		}, []string{"outcome"}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Data-quality anomalies by code and severity.",
		}, []string{"code", "severity"}),
		layoutChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layout_changes_total",
			Help:      "Layout comparisons by significance.",
		}, []string{"significance"}),
		statusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_status_changes_total",
			Help:      "Profile status transitions by target status.",
		}, []string{"status"}),
	}
}

// OracleCall records one completed oracle call.
func (m *Metrics) OracleCall(provider, phase, result string, inputTokens, outputTokens int64, costUSD float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(provider, phase, result).Inc()
	m.oracleLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if inputTokens > 0 {
		m.oracleTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.oracleTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		m.oracleCost.WithLabelValues(provider).Add(costUSD)
	}
}

// BudgetDenied records a refused call.
func (m *Metrics) BudgetDenied(reason string) {
	if m == nil {
		return
	}
	m.budgetDenials.WithLabelValues(reason).Inc()
}

// Evaluation records an orchestrator outcome.
func (m *Metrics) Evaluation(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// Anomaly records one detected anomaly.
func (m *Metrics) Anomaly(code, severity string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(code, severity).Inc()
}

// LayoutComparison records a fingerprint comparison.
func (m *Metrics) LayoutComparison(significance string) {
	if m == nil {
		return
	}
	m.layoutChanges.WithLabelValues(significance).Inc()
}

// StatusChange records a profile status transition.
func (m *Metrics) StatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}
