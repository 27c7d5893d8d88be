//go:build !tracing

package trace

import "context"

// NoopExporter discards every record.
// Used when tracing is disabled at build time.
type NoopExporter struct{}

// NewFileExporter returns a no-op exporter when tracing is disabled.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	return &NoopExporter{}, nil
}

// Export does nothing.
func (n *NoopExporter) Export(ctx context.Context, record *TraceRecord) error {
	return nil
}

// Close does nothing.
func (n *NoopExporter) Close() error {
	return nil
}

// WithMaxSize is accepted and ignored when tracing is disabled.
func WithMaxSize(bytes int64) FileExporterOption {
	return func(any) {}
}

// WithMaxRotatedFiles is accepted and ignored when tracing is disabled.
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(any) {}
}
