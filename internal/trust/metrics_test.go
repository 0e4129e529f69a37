package trust

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	if len(m.Collectors()) != 6 {
		t.Errorf("expected 6 collectors, got %d", len(m.Collectors()))
	}

	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("duplicate Register() should fail")
	}
}

func TestMetrics_Values(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}

	m.IncRecomputeTotal()
	m.IncRecomputeTotal()
	m.IncRecomputeErrors()
	m.ObserveRecomputeDuration(0.02)
	m.SetLastRecomputeTimestamp(1700000000)
	m.SetDirtySellers(3)
	m.IncEdgesAppended(EdgeEndorsement)
	m.IncEdgesAppended(EdgeOrderFulfilled)
	m.IncEdgesAppended(EdgeOrderFulfilled)

	if got := gatherFamily(t, reg, MetricTrustRecomputeTotal).GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("%s = %v, want 2", MetricTrustRecomputeTotal, got)
	}
	if got := gatherFamily(t, reg, MetricTrustRecomputeErrors).GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("%s = %v, want 1", MetricTrustRecomputeErrors, got)
	}
	if got := gatherFamily(t, reg, MetricTrustRecomputeDuration).GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("%s samples = %v, want 1", MetricTrustRecomputeDuration, got)
	}
	if got := gatherFamily(t, reg, MetricTrustDirtySellers).GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("%s = %v, want 3", MetricTrustDirtySellers, got)
	}

	edges := gatherFamily(t, reg, MetricTrustEdgesAppended)
	byKind := map[string]float64{}
	for _, metric := range edges.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "kind" {
				byKind[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if byKind[string(EdgeOrderFulfilled)] != 2 || byKind[string(EdgeEndorsement)] != 1 {
		t.Errorf("edges by kind = %v", byKind)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncRecomputeTotal()
	m.IncRecomputeErrors()
	m.ObserveRecomputeDuration(1)
	m.SetLastRecomputeTimestamp(1)
	m.SetDirtySellers(1)
	m.IncEdgesAppended(EdgeEndorsement)
}
