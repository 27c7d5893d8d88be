package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector provides Prometheus metrics collection for kgstore operations
type MetricsCollector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	graphItems        *prometheus.GaugeVec
	registry          *prometheus.Registry
}

var _ Collector = (*MetricsCollector)(nil)

// NewCollector creates a new Prometheus metrics collector with its own registry
func NewCollector() *MetricsCollector {
	registry := prometheus.NewRegistry()

	operationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgstore_operations_total",
			Help: "Total number of kgstore operations by type and status",
		},
		[]string{"operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgstore_operation_duration_seconds",
			Help:    "Duration of kgstore operations by type and stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"operation", "stage"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgstore_errors_total",
			Help: "Total number of errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgstore_search_fallbacks_total",
			Help: "Database searches answered by client-side matching, by strategy and reason",
		},
		[]string{"strategy", "reason"},
	)

	graphItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kgstore_graph_items",
			Help: "Item count of the most recently loaded graph by type",
		},
		[]string{"type"},
	)

	registry.MustRegister(operationsTotal, operationDuration, errorsTotal, fallbacksTotal, graphItems)

	return &MetricsCollector{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
		fallbacksTotal:    fallbacksTotal,
		graphItems:        graphItems,
		registry:          registry,
	}
}

// RecordOperation records the completion of an operation
func (m *MetricsCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, "total").Observe(float64(durationMs) / 1000.0)
}

// RecordStage records the duration of a specific stage within an operation
func (m *MetricsCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
	m.operationDuration.WithLabelValues(operation, stage).Observe(float64(durationMs) / 1000.0)
}

// RecordError records an error occurrence
func (m *MetricsCollector) RecordError(ctx context.Context, operation string, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordFallback records a search that fell back to client-side matching
func (m *MetricsCollector) RecordFallback(ctx context.Context, strategy string, reason string) {
	m.fallbacksTotal.WithLabelValues(strategy, reason).Inc()
}

// SetGraphItems sets the current count for a graph item type
func (m *MetricsCollector) SetGraphItems(ctx context.Context, itemType string, count int64) {
	m.graphItems.WithLabelValues(itemType).Set(float64(count))
}

// Registry returns the Prometheus registry for HTTP exposure
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}
