package metrics

import "context"

// NoopCollector discards every measurement. It is the default when no collector is configured.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing
func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

// RecordStage does nothing
func (n *NoopCollector) RecordStage(ctx context.Context, operation string, stage string, durationMs int64) {
}

// RecordError does nothing
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {
}

// RecordFallback does nothing
func (n *NoopCollector) RecordFallback(ctx context.Context, strategy string, reason string) {
}

// SetGraphItems does nothing
func (n *NoopCollector) SetGraphItems(ctx context.Context, itemType string, count int64) {
}

var _ Collector = (*NoopCollector)(nil)
