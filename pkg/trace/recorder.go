package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder accumulates spans for one operation and exports them as a TraceRecord.
// A Recorder built with a nil Exporter records nothing; all methods stay safe to call.
type Recorder struct {
	exporter Exporter
	start    time.Time

	mu     sync.Mutex
	record TraceRecord
}

// Start begins tracing an operation.
func Start(exporter Exporter, operation string) *Recorder {
	r := &Recorder{exporter: exporter, start: time.Now()}
	if exporter == nil {
		return r
	}
	r.record = TraceRecord{
		Timestamp:   r.start.UTC(),
		OperationID: uuid.NewString(),
		Operation:   operation,
		Spans:       make([]SpanRecord, 0, 4),
	}
	return r
}

// Enabled reports whether records will be exported.
func (r *Recorder) Enabled() bool {
	return r != nil && r.exporter != nil
}

// OperationID returns the correlation ID, or "" when disabled.
func (r *Recorder) OperationID() string {
	if !r.Enabled() {
		return ""
	}
	return r.record.OperationID
}

// SetID attaches an identifier (project, strategy, mode) to the record.
func (r *Recorder) SetID(key string, value any) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record.IDs == nil {
		r.record.IDs = make(map[string]any)
	}
	r.record.IDs[key] = value
}

// Span starts timing a named stage. Call Finish on the returned timer.
func (r *Recorder) Span(name string) *SpanTimer {
	return &SpanTimer{recorder: r, name: name, start: time.Now()}
}

// Finish completes the record and exports it. errorType is used when err is non-nil.
func (r *Recorder) Finish(ctx context.Context, err error, errorType string) error {
	if !r.Enabled() {
		return nil
	}

	r.mu.Lock()
	r.record.DurationMs = time.Since(r.start).Milliseconds()
	r.record.Status = "success"
	if err != nil {
		r.record.Status = "error"
		r.record.ErrorType = errorType
	}
	record := r.record
	r.mu.Unlock()

	return r.exporter.Export(ctx, &record)
}

// SpanTimer measures one stage of a traced operation.
type SpanTimer struct {
	recorder *Recorder
	name     string
	start    time.Time
}

// Duration returns the time elapsed since the span started.
func (st *SpanTimer) Duration() time.Duration {
	return time.Since(st.start)
}

// Finish records the span. errorType is only kept when ok is false.
func (st *SpanTimer) Finish(ok bool, errorType string, counters map[string]int64) {
	if !st.recorder.Enabled() {
		return
	}
	span := SpanRecord{
		Name:       st.name,
		DurationMs: st.Duration().Milliseconds(),
		OK:         ok,
		Counters:   counters,
	}
	if !ok {
		span.ErrorType = errorType
	}

	st.recorder.mu.Lock()
	st.recorder.record.Spans = append(st.recorder.record.Spans, span)
	st.recorder.mu.Unlock()
}
