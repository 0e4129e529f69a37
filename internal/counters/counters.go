// Package counters provides fire-and-forget named counters for hot paths.
package counters

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter names used across the service.
const (
	TrustRecompute = "trust.recompute"
	SearchQuery    = "search.query"
	TrustCacheHit  = "trust.cache.hit"
	TrustCacheMiss = "trust.cache.miss"
)

// MetricEventsTotal is the Prometheus metric backing named counters.
const MetricEventsTotal = "artisan_events_total"

// Counter increments a named counter. Inc must never block or panic.
type Counter interface {
	Inc(name string)
}

// Noop discards all increments.
type Noop struct{}

// Inc does nothing.
func (Noop) Inc(string) {}

// OrNoop returns c, or a Noop when c is nil.
func OrNoop(c Counter) Counter {
	if c == nil {
		return Noop{}
	}
	return c
}

// Prometheus exposes named counters as one labelled counter vector.
type Prometheus struct {
	events *prometheus.CounterVec
}

// NewPrometheus creates a Prometheus-backed counter. Call Register to expose it.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsTotal,
				Help: "Total number of named service events",
			},
			[]string{"name"},
		),
	}
}

// Register registers the counter vector with the given registry.
func (p *Prometheus) Register(reg prometheus.Registerer) error {
	return reg.Register(p.events)
}

// Inc increments the counter for name.
func (p *Prometheus) Inc(name string) {
	p.events.WithLabelValues(name).Inc()
}

// Collector returns the underlying collector for testing.
func (p *Prometheus) Collector() prometheus.Collector {
	return p.events
}

// Memory counts increments in a map. Useful in tests.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemory creates an empty in-memory counter.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

// Inc increments the counter for name.
func (m *Memory) Inc(name string) {
	m.mu.Lock()
	m.counts[name]++
	m.mu.Unlock()
}

// Get returns the current value for name.
func (m *Memory) Get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}
