package metrics

import "context"

// Collector is the interface for metrics collection.
// Implementations include the Prometheus-backed collector and the no-op collector.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)

	// RecordFallback counts a database search that was answered client side instead.
	RecordFallback(ctx context.Context, strategy string, reason string)

	// SetGraphItems sets the item count ("entities" or "relations") of the last loaded graph.
	SetGraphItems(ctx context.Context, itemType string, count int64)
}

// Fallback reasons.
const (
	FallbackReasonError       = "error"
	FallbackReasonCircuitOpen = "circuit_open"
)
