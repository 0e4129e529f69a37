package trust

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricTrustRecomputeTotal         = "trust_recompute_total"
	MetricTrustRecomputeErrors        = "trust_recompute_errors_total"
	MetricTrustRecomputeDuration      = "trust_recompute_duration_seconds"
	MetricTrustLastRecomputeTimestamp = "trust_last_recompute_timestamp"
	MetricTrustDirtySellers           = "trust_dirty_sellers"
	MetricTrustEdgesAppended          = "trust_edges_appended_total"
)

// Metrics contains Prometheus metrics for the reputation ledger.
// All operations are thread-safe. A nil *Metrics is valid and records nothing.
type Metrics struct {
	recomputeTotal         prometheus.Counter
	recomputeErrors        prometheus.Counter
	recomputeDuration      prometheus.Histogram
	lastRecomputeTimestamp prometheus.Gauge
	dirtySellers           prometheus.Gauge
	edgesAppended          *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTrustRecomputeTotal,
			Help: "Total number of seller trust score recomputations",
		}),
		recomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTrustRecomputeErrors,
			Help: "Total number of failed seller trust score recomputations",
		}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricTrustRecomputeDuration,
			Help:    "Histogram of seller trust score recomputation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		lastRecomputeTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTrustLastRecomputeTimestamp,
			Help: "Unix timestamp of the last successful trust score recomputation",
		}),
		dirtySellers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricTrustDirtySellers,
			Help: "Number of sellers awaiting a retried recomputation",
		}),
		edgesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTrustEdgesAppended,
			Help: "Total number of reputation edges appended by kind",
		}, []string{"kind"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRecomputeTotal increments the recompute total counter.
func (m *Metrics) IncRecomputeTotal() {
	if m == nil {
		return
	}
	m.recomputeTotal.Inc()
}

// IncRecomputeErrors increments the recompute errors counter.
func (m *Metrics) IncRecomputeErrors() {
	if m == nil {
		return
	}
	m.recomputeErrors.Inc()
}

// ObserveRecomputeDuration records a recompute duration sample.
func (m *Metrics) ObserveRecomputeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(seconds)
}

// SetLastRecomputeTimestamp sets the last recompute timestamp gauge.
func (m *Metrics) SetLastRecomputeTimestamp(timestamp float64) {
	if m == nil {
		return
	}
	m.lastRecomputeTimestamp.Set(timestamp)
}

// SetDirtySellers sets the dirty seller gauge.
func (m *Metrics) SetDirtySellers(count float64) {
	if m == nil {
		return
	}
	m.dirtySellers.Set(count)
}

// IncEdgesAppended increments the appended edge counter for kind.
func (m *Metrics) IncEdgesAppended(kind EdgeKind) {
	if m == nil {
		return
	}
	m.edgesAppended.WithLabelValues(string(kind)).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.recomputeDuration,
		m.lastRecomputeTimestamp,
		m.dirtySellers,
		m.edgesAppended,
	}
}
