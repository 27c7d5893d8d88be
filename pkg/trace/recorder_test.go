package trace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureExporter struct {
	mu      sync.Mutex
	records []TraceRecord
}

func (c *captureExporter) Export(ctx context.Context, record *TraceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, *record)
	return nil
}

func (c *captureExporter) Close() error { return nil }

func TestRecorder_ExportsSpans(t *testing.T) {
	exp := &captureExporter{}
	rec := Start(exp, "search")
	rec.SetID("project", "p1")

	span := rec.Span(SpanSearchDatabase)
	span.Finish(false, "database", map[string]int64{"terms": 2})
	rec.Span(SpanSearchClient).Finish(true, "", map[string]int64{"results": 3})

	require.NoError(t, rec.Finish(context.Background(), nil, ""))
	require.Len(t, exp.records, 1)

	got := exp.records[0]
	assert.Equal(t, "search", got.Operation)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "p1", got.IDs["project"])
	_, err := uuid.Parse(got.OperationID)
	assert.NoError(t, err, "operation ID must be a UUID")

	require.Len(t, got.Spans, 2)
	assert.Equal(t, SpanSearchDatabase, got.Spans[0].Name)
	assert.False(t, got.Spans[0].OK)
	assert.Equal(t, "database", got.Spans[0].ErrorType)
	assert.Equal(t, int64(3), got.Spans[1].Counters["results"])
	assert.Empty(t, got.Spans[1].ErrorType)
}

func TestRecorder_ErrorStatus(t *testing.T) {
	exp := &captureExporter{}
	rec := Start(exp, "save_graph")

	require.NoError(t, rec.Finish(context.Background(), errors.New("boom"), "database"))
	require.Len(t, exp.records, 1)
	assert.Equal(t, "error", exp.records[0].Status)
	assert.Equal(t, "database", exp.records[0].ErrorType)
}

func TestRecorder_DisabledWithoutExporter(t *testing.T) {
	rec := Start(nil, "search")

	assert.False(t, rec.Enabled())
	assert.Empty(t, rec.OperationID())

	// Must not panic
	rec.SetID("project", "p1")
	rec.Span(SpanPaginate).Finish(true, "", nil)
	assert.NoError(t, rec.Finish(context.Background(), nil, ""))
}
