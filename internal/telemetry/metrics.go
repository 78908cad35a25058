package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	LabelsGenerated *prometheus.CounterVec
	BatchesCreated  prometheus.Counter
	CarrierErrors   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		LabelsGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dpdbridge_labels_generated_total",
				Help: "Total labels generated by direction and source",
			},
			[]string{"direction", "source"},
		),
		BatchesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dpdbridge_async_batches_total",
				Help: "Total batches handed to the carrier job pipeline",
			},
		),
		CarrierErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dpdbridge_carrier_errors_total",
				Help: "Total carrier API errors by error type",
			},
			[]string{"error_type"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dpdbridge_request_duration_seconds",
				Help:    "Admin request duration in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordLabel records one generated label. Direction is "outbound" or
// "return"; source is "carrier" or "archive".
func (m *Metrics) RecordLabel(direction, source string) {
	m.LabelsGenerated.WithLabelValues(direction, source).Inc()
}

// RecordBatch records one async batch hand-off.
func (m *Metrics) RecordBatch() {
	m.BatchesCreated.Inc()
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(errorType string) {
	m.CarrierErrors.WithLabelValues(errorType).Inc()
}
