package trace

import (
	"context"
	"time"
)

// Exporter defines the interface for exporting operation traces.
// Implementations must be safe for concurrent use.
type Exporter interface {
	// Export writes a trace record to the configured destination.
	Export(ctx context.Context, record *TraceRecord) error

	// Close flushes any buffered records and releases resources.
	Close() error
}

// TraceRecord is one traced operation. It carries timings, counts and
// identifiers only: no query text and no graph content.
type TraceRecord struct {
	// Timestamp is the operation start time
	Timestamp time.Time `json:"timestamp"`

	// OperationID uniquely identifies this operation (for correlation)
	OperationID string `json:"operationId"`

	// Operation is the operation type: "search", "search_paginated", "save_graph", ...
	Operation string `json:"operation"`

	// DurationMs is the total operation duration in milliseconds
	DurationMs int64 `json:"durationMs"`

	// Status is "success" or "error"
	Status string `json:"status"`

	// Spans contains per-stage timing and status
	Spans []SpanRecord `json:"spans"`

	// ErrorType classifies the error (if Status == "error")
	// Values: config, validation, database, timeout, unknown
	ErrorType string `json:"errorType,omitempty"`

	// IDs contains operation-specific identifiers such as project and strategy
	IDs map[string]any `json:"ids,omitempty"`
}

// SpanRecord represents a single stage within an operation.
type SpanRecord struct {
	// Name is the stage name (search-exact, search-database, search-client, paginate)
	Name string `json:"name"`

	// DurationMs is the stage duration in milliseconds
	DurationMs int64 `json:"durationMs"`

	// OK indicates success (true) or failure (false)
	OK bool `json:"ok"`

	// ErrorType classifies the error (if OK == false)
	ErrorType string `json:"errorType,omitempty"`

	// Counters provides stage-specific counts (e.g. terms, candidates, results)
	Counters map[string]int64 `json:"counters,omitempty"`
}

// Span names emitted by search operations.
const (
	SpanSearchExact    = "search-exact"
	SpanSearchDatabase = "search-database"
	SpanSearchClient   = "search-client"
	SpanPaginate       = "paginate"
)

// FileExporterOption configures a FileExporter.
// The type exists in both tracing and non-tracing builds.
type FileExporterOption func(any)
