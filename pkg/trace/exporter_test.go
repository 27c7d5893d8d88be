//go:build tracing

package trace

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileExporter_BasicExport(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	record := &TraceRecord{
		Timestamp:   time.Date(2026, 1, 14, 10, 30, 0, 0, time.UTC),
		OperationID: "test-op-1",
		Operation:   "search",
		DurationMs:  12,
		Status:      "success",
		Spans: []SpanRecord{
			{Name: SpanSearchDatabase, DurationMs: 10, OK: true},
			{Name: SpanPaginate, DurationMs: 1, OK: true},
		},
	}

	if err := exporter.Export(context.Background(), record); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatalf("Read trace file failed: %v", err)
	}

	var got TraceRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal trace record failed: %v", err)
	}
	if got.OperationID != "test-op-1" || got.Operation != "search" {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.Spans) != 2 || got.Spans[0].Name != SpanSearchDatabase {
		t.Errorf("unexpected spans: %+v", got.Spans)
	}
}

func TestFileExporter_MultipleRecords(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := exporter.Export(context.Background(), &TraceRecord{Operation: "save_graph", Status: "success"}); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}
	exporter.Close()

	f, err := os.Open(tracePath)
	if err != nil {
		t.Fatalf("open trace file: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}
}

func TestFileExporter_Rotation(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")

	exporter, err := NewFileExporter(tracePath, WithMaxSize(200), WithMaxRotatedFiles(2))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	for i := 0; i < 20; i++ {
		record := &TraceRecord{OperationID: "rotation-test-operation", Operation: "search", Status: "success"}
		if err := exporter.Export(context.Background(), record); err != nil {
			t.Fatalf("Export %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(tracePath + ".1"); err != nil {
		t.Errorf("expected rotated file .1: %v", err)
	}
	if _, err := os.Stat(tracePath + ".2"); err != nil {
		t.Errorf("expected rotated file .2: %v", err)
	}
	if _, err := os.Stat(tracePath + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected no rotated file .3 beyond the limit, got err=%v", err)
	}
}

func TestFileExporter_CloseIdempotent(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := exporter.Export(context.Background(), &TraceRecord{}); err == nil {
		t.Error("expected Export after Close to fail")
	}
}

func TestFileExporter_DirectoryCreation(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	if err != nil {
		t.Fatalf("NewFileExporter failed: %v", err)
	}
	defer exporter.Close()

	if _, err := os.Stat(filepath.Dir(tracePath)); err != nil {
		t.Errorf("expected directory to be created: %v", err)
	}
}
