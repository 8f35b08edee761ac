package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += counterOrGauge(m)
		}
	}
	return total
}

func counterOrGauge(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	if h := m.GetHistogram(); h != nil {
		return float64(h.GetSampleCount())
	}
	return 0
}

func TestDetectionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDetectionMetrics(reg)

	m.ObserveAnalysis("high", true, 0.05)
	m.ObserveAnalysis("none", false, 0.01)

	if got := gatherValue(t, reg, "crisis_detection_analyses_total"); got != 2 {
		t.Errorf("analyses_total = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "crisis_detection_degraded_total"); got != 1 {
		t.Errorf("degraded_total = %v, want 1", got)
	}
}

func TestEscalationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEscalationMetrics(reg)

	m.ObserveTransition("monitoring", "alerted")
	m.ObserveAction("connect-crisis-line", "failed")
	m.ObserveConnectAttempt("failed")
	m.ObserveOverride()

	if got := gatherValue(t, reg, "crisis_escalation_safety_overrides_total"); got != 1 {
		t.Errorf("overrides = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "crisis_escalation_transitions_total"); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
}

func TestNilSafety(t *testing.T) {
	var d *DetectionMetrics
	var e *EscalationMetrics
	var l *LedgerMetrics

	d.ObserveAnalysis("low", false, 0)
	e.ObserveTransition("a", "b")
	e.ObserveOverride()
	l.ObserveAppend("ok")
	l.SetRetryDepth(3)
	l.ObservePurged("low", 10)
}
