package tailreader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/anthropics/local-logger/internal/schema"
)

func writeEvents(t *testing.T, path string, n int) []schema.Entry {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	var entries []schema.Entry
	for i := 0; i < n; i++ {
		e := schema.NewMcp("sess", "info", "line")
		e.CorrelationID = "corr-" + strconv.Itoa(i)
		entries = append(entries, e)
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return entries
}

func TestReadLastN_ExactCount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")
	entries := writeEvents(t, path, 10)

	got, err := ReadLastN(path, 3)
	if err != nil {
		t.Fatalf("ReadLastN: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	want := entries[7:10]
	for i := range want {
		if got[i].CorrelationID != want[i].CorrelationID {
			t.Errorf("event %d correlation = %q, want %q", i, got[i].CorrelationID, want[i].CorrelationID)
		}
	}
}

func TestReadLastN_FewerThanN(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")
	entries := writeEvents(t, path, 3)

	got, err := ReadLastN(path, 100)
	if err != nil {
		t.Fatalf("ReadLastN: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want min(N,k)=3", len(got))
	}
	for i := range entries {
		if got[i].CorrelationID != entries[i].CorrelationID {
			t.Errorf("event %d correlation = %q, want %q", i, got[i].CorrelationID, entries[i].CorrelationID)
		}
	}
}

func TestReadLastN_SpansMultipleChunks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")
	// Each line is roughly 190 bytes, so the last 1000 lines (~185KiB) can
	// only be collected across several 64KiB backward-read chunks.
	entries := writeEvents(t, path, 2000)

	got, err := ReadLastN(path, 1000)
	if err != nil {
		t.Fatalf("ReadLastN: %v", err)
	}
	if len(got) != 1000 {
		t.Fatalf("got %d events, want 1000", len(got))
	}
	want := entries[1000:2000]
	for i := range want {
		if got[i].CorrelationID != want[i].CorrelationID {
			t.Errorf("event %d correlation = %q, want %q", i, got[i].CorrelationID, want[i].CorrelationID)
		}
	}
}

func TestReadLastN_PartialTrailingLineTolerated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")
	entries := writeEvents(t, path, 5)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString(`{"schema_version":1,"timestamp":"2026-07-31T00:00:0`); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	f.Close()

	got, err := ReadLastN(path, 10)
	if err != nil {
		t.Fatalf("ReadLastN: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d events, want 5 (partial trailing line must be skipped)", len(got))
	}
	for i := range entries {
		if got[i].CorrelationID != entries[i].CorrelationID {
			t.Errorf("event %d correlation = %q, want %q", i, got[i].CorrelationID, entries[i].CorrelationID)
		}
	}
}

func TestReadLastN_ZeroOrNegativeReturnsNil(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")
	writeEvents(t, path, 5)

	got, err := ReadLastN(path, 0)
	if err != nil {
		t.Fatalf("ReadLastN: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}

	got, err = ReadLastN(path, -1)
	if err != nil {
		t.Fatalf("ReadLastN(-1): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events for n=-1, want 0", len(got))
	}
}

func TestReadLastN_EmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "2026-07-31.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}

	got, err := ReadLastN(path, 5)
	if err != nil {
		t.Fatalf("ReadLastN: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}
}
