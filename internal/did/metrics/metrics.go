package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the DID lifecycle engine.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DocumentsCreated  prometheus.Counter
}

// New registers the lifecycle metrics with reg (the default registry when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "didledger_did_operations_total",
			Help: "Lifecycle operations by kind and outcome (ok or the domain error code)",
		}, []string{"operation", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didledger_did_operation_duration_seconds",
			Help:    "Duration of lifecycle operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		DocumentsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "didledger_did_documents_created_total",
			Help: "Total number of DID documents created",
		}),
	}
}

// Observe records the outcome and duration of one operation.
// Call with time.Now() taken at the start of the operation.
func (m *Metrics) Observe(operation, outcome string, start time.Time) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncrementDocumentsCreated records a successful create.
func (m *Metrics) IncrementDocumentsCreated() {
	m.DocumentsCreated.Inc()
}
