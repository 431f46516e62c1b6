package anchor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks anchoring throughput and gateway health.
type Metrics struct {
	Anchored     *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	Dropped      prometheus.Counter
	Pending      prometheus.Gauge
	BreakerState prometheus.Gauge
}

// NewMetrics registers anchoring metrics with reg (the default registry when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Anchored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "didledger_anchor_events_total",
			Help: "Events accepted by the anchoring gateway, by gateway and operation kind",
		}, []string{"gateway", "kind"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "didledger_anchor_failures_total",
			Help: "Events the anchoring gateway rejected or could not be reached for",
		}, []string{"gateway"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "didledger_anchor_dropped_total",
			Help: "Events dropped because the anchor buffer was full",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "didledger_anchor_pending",
			Help: "Events waiting in the anchor buffer",
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "didledger_anchor_circuit_breaker_state",
			Help: "Anchoring circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) incAnchored(gateway, kind string) {
	if m != nil {
		m.Anchored.WithLabelValues(gateway, kind).Inc()
	}
}

func (m *Metrics) incFailures(gateway string) {
	if m != nil {
		m.Failures.WithLabelValues(gateway).Inc()
	}
}

func (m *Metrics) addDropped(n int) {
	if m != nil && n > 0 {
		m.Dropped.Add(float64(n))
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.Pending.Set(float64(n))
	}
}

func (m *Metrics) setBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}
