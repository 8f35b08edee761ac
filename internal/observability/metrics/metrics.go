package metrics

import "github.com/prometheus/client_golang/prometheus"

// DetectionMetrics exposes counters/histograms for the analysis pipeline.
type DetectionMetrics struct {
	analysesTotal    *prometheus.CounterVec
	analysisLatency  *prometheus.HistogramVec
	degradedTotal    prometheus.Counter
}

func NewDetectionMetrics(reg prometheus.Registerer) *DetectionMetrics {
	m := &DetectionMetrics{
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "detection",
			Name:      "analyses_total",
			Help:      "Total text analyses by resulting severity",
		}, []string{"severity"}),
		analysisLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crisis",
			Subsystem: "detection",
			Name:      "analysis_latency_seconds",
			Help:      "Latency of the detection pipeline",
			Buckets:   prometheus.DefBuckets,
		}, []string{"severity"}),
		degradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "detection",
			Name:      "degraded_total",
			Help:      "Analyses that fell back to dictionary-only matching",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.analysesTotal, m.analysisLatency, m.degradedTotal)
	return m
}

func (m *DetectionMetrics) ObserveAnalysis(severity string, degraded bool, seconds float64) {
	if m == nil {
		return
	}
	m.analysesTotal.WithLabelValues(severity).Inc()
	m.analysisLatency.WithLabelValues(severity).Observe(seconds)
	if degraded {
		m.degradedTotal.Inc()
	}
}

// EscalationMetrics exposes counters for orchestrator transitions and
// external effect outcomes.
type EscalationMetrics struct {
	transitionsTotal *prometheus.CounterVec
	actionsTotal     *prometheus.CounterVec
	connectAttempts  *prometheus.CounterVec
	overridesTotal   prometheus.Counter
}

func NewEscalationMetrics(reg prometheus.Registerer) *EscalationMetrics {
	m := &EscalationMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "escalation",
			Name:      "transitions_total",
			Help:      "State machine transitions by from/to state",
		}, []string{"from", "to"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "escalation",
			Name:      "actions_total",
			Help:      "Escalation actions taken by type and outcome",
		}, []string{"action", "outcome"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "escalation",
			Name:      "connect_attempts_total",
			Help:      "Crisis-line connect attempts by outcome",
		}, []string{"outcome"}),
		overridesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "escalation",
			Name:      "safety_overrides_total",
			Help:      "Critical safety overrides that bypassed consent",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.actionsTotal, m.connectAttempts, m.overridesTotal)
	return m
}

func (m *EscalationMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *EscalationMetrics) ObserveAction(action, outcome string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *EscalationMetrics) ObserveConnectAttempt(outcome string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(outcome).Inc()
}

func (m *EscalationMetrics) ObserveOverride() {
	if m == nil {
		return
	}
	m.overridesTotal.Inc()
}

// LedgerMetrics tracks audit durability.
type LedgerMetrics struct {
	appendsTotal  *prometheus.CounterVec
	retryDepth    prometheus.Gauge
	purgedTotal   *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		appendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Audit appends by outcome",
		}, []string{"outcome"}),
		retryDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crisis",
			Subsystem: "ledger",
			Name:      "retry_queue_depth",
			Help:      "Audit entries awaiting retry",
		}),
		purgedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crisis",
			Subsystem: "ledger",
			Name:      "purged_total",
			Help:      "Entries removed by the retention purger, by severity class",
		}, []string{"severity"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.appendsTotal, m.retryDepth, m.purgedTotal)
	return m
}

func (m *LedgerMetrics) ObserveAppend(outcome string) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) SetRetryDepth(n int) {
	if m == nil {
		return
	}
	m.retryDepth.Set(float64(n))
}

func (m *LedgerMetrics) ObservePurged(severity string, count int) {
	if m == nil {
		return
	}
	m.purgedTotal.WithLabelValues(severity).Add(float64(count))
}
