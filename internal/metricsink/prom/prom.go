// Package prom adapts metrics.Sink onto Prometheus client_golang vectors,
// mirroring the label/bucket conventions this codebase's ancestry uses for
// its own request metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indexforge/ingestcore/internal/metrics"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestcore_operations_total",
			Help: "Total number of profiled operations, by operation and outcome",
		},
		[]string{"operation", "success"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestcore_operation_duration_seconds",
			Help:    "Profiled operation duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"operation"},
	)

	rabbitmqHealthCheckErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbitmq_health_check_error_total",
			Help: "Total number of failed broker health checks",
		},
		[]string{"reason"},
	)

	cacheHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestcore_cache_hit_ratio",
			Help: "Hit ratio for a named cache",
		},
		[]string{"cache"},
	)

	batchSizeCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestcore_batch_size_current",
			Help: "Current adaptive batch size per collection",
		},
		[]string{"collection"},
	)
)

// Sink is a metrics.Sink backed by Prometheus client_golang.
type Sink struct{}

// New returns a Prometheus-backed metrics.Sink.
func New() *Sink { return &Sink{} }

var _ metrics.Sink = (*Sink)(nil)

// Record implements metrics.Sink.
func (s *Sink) Record(m metrics.OperationMetric) {
	success := "true"
	if !m.Success {
		success = "false"
	}
	operationsTotal.WithLabelValues(m.Operation, success).Inc()
	operationDuration.WithLabelValues(m.Operation).Observe(m.DurationMS / 1000.0)
}

// RecordBrokerHealthCheckError increments the broker health-check error
// counter, named after the metric the Broker Connection Core is required
// to emit on consecutive health-check failures.
func RecordBrokerHealthCheckError(reason string) {
	rabbitmqHealthCheckErrors.WithLabelValues(reason).Inc()
}

// RecordCacheHitRatio sets the current hit ratio gauge for a named cache.
func RecordCacheHitRatio(cache string, ratio float64) {
	cacheHitRatio.WithLabelValues(cache).Set(ratio)
}

// RecordBatchSize sets the current adaptive batch size gauge for a collection.
func RecordBatchSize(collection string, size int) {
	batchSizeCurrent.WithLabelValues(collection).Set(float64(size))
}
