package http

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/quantgate/quantgate/internal/domain"
)

// MetricsRegistry holds the prometheus collectors for the decision
// engine. All collectors register against a private registry so tests
// never collide on the global default.
type MetricsRegistry struct {
	registry *prometheus.Registry

	decisionsTotal  *prometheus.CounterVec
	vetoesTotal     *prometheus.CounterVec
	decisionScore   *prometheus.HistogramVec
	moduleWeight    *prometheus.GaugeVec
	backtestRuns    prometheus.Counter
	backtestActive  prometheus.Gauge
	backtestElapsed prometheus.Histogram
}

// NewMetricsRegistry creates and registers all collectors
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantgate_decisions_total",
			Help: "Decisions emitted, by verdict and regime",
		}, []string{"decision", "regime"}),

		vetoesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quantgate_vetoes_total",
			Help: "Veto rule firings, by rule name",
		}, []string{"rule"}),

		decisionScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantgate_decision_score",
			Help:    "Final aggregate score distribution, by regime",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"regime"}),

		moduleWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quantgate_module_weight",
			Help: "Current effective weight per signal module",
		}, []string{"module"}),

		backtestRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quantgate_backtest_runs_total",
			Help: "Completed backtest runs",
		}),

		backtestActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quantgate_backtest_active",
			Help: "1 while a backtest run is in flight",
		}),

		backtestElapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quantgate_backtest_duration_seconds",
			Help:    "Backtest run wall time",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.decisionsTotal, m.vetoesTotal, m.decisionScore, m.moduleWeight,
		m.backtestRuns, m.backtestActive, m.backtestElapsed,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler
func (m *MetricsRegistry) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveDecision records one emitted decision, including any veto
// traces it carries
func (m *MetricsRegistry) ObserveDecision(result domain.DecisionResult) {
	m.decisionsTotal.WithLabelValues(result.FinalDecision.String(), result.Regime).Inc()
	m.decisionScore.WithLabelValues(result.Regime).Observe(result.TotalScore)
	for _, trace := range result.Traces {
		if trace.Recommendation == "VETO" {
			m.vetoesTotal.WithLabelValues(trace.ModuleID).Inc()
		}
	}
}

// SetModuleWeights publishes the current effective weights
func (m *MetricsRegistry) SetModuleWeights(weights map[string]float64) {
	for module, weight := range weights {
		m.moduleWeight.WithLabelValues(module).Set(weight)
	}
}

// BacktestStarted flags an in-flight run
func (m *MetricsRegistry) BacktestStarted() {
	m.backtestActive.Set(1)
}

// BacktestFinished records a completed run
func (m *MetricsRegistry) BacktestFinished(seconds float64) {
	m.backtestActive.Set(0)
	m.backtestRuns.Inc()
	m.backtestElapsed.Observe(seconds)
}

// BacktestAborted clears the active-run gauge for a run that failed.
// Aborted runs never count as completed and record no duration sample.
func (m *MetricsRegistry) BacktestAborted() {
	m.backtestActive.Set(0)
}

// Summary reads the collectors back into a plain map for the JSON
// summary endpoint
func (m *MetricsRegistry) Summary() (map[string]interface{}, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	summary := make(map[string]interface{}, len(families))
	for _, family := range families {
		total := 0.0
		for _, metric := range family.GetMetric() {
			total += metricValue(metric)
		}
		summary[family.GetName()] = total
	}
	return summary, nil
}

// metricValue extracts the scalar reading from one gathered sample:
// counters and gauges report their value, histograms their sample count
func metricValue(metric *dto.Metric) float64 {
	switch {
	case metric.Counter != nil:
		return metric.Counter.GetValue()
	case metric.Gauge != nil:
		return metric.Gauge.GetValue()
	case metric.Histogram != nil:
		return float64(metric.Histogram.GetSampleCount())
	default:
		return 0
	}
}
