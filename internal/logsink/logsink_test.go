package logsink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/local-logger/internal/schema"
)

func TestWrite_AppendsOneLinePerEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e1 := schema.NewMcp("sess", "info", "first")
	e1.Date = "2026-07-31"
	e2 := schema.NewMcp("sess", "info", "second")
	e2.Date = "2026-07-31"

	if err := sink.Write(e1); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := sink.Write(e2); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	data, err := os.ReadFile(sink.PathForDate("2026-07-31"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), lines)
	}
	for i, line := range lines {
		var entry schema.Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestWrite_CreatesLogsDirOnFirstConstruction(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "logs")
	if _, err := New(dir); err != nil {
		t.Fatalf("New: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("logs dir %s was not created", dir)
	}
}

// TestWrite_ConcurrentWritersSingleLineInvariant exercises the
// cross-process-safety invariant within a single process: many goroutines
// writing concurrently to the same daily file must never interleave bytes
// within one JSON line.
func TestWrite_ConcurrentWritersSingleLineInvariant(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			entry := schema.NewMcp("sess", "info", strings.Repeat("x", 500)+strconv.Itoa(i))
			entry.Date = "2026-07-31"
			if err := sink.Write(entry); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(sink.PathForDate("2026-07-31"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(data, []byte("}{\"")) {
		t.Fatal("found interleaved '}{\"' — writers clobbered each other's lines")
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry schema.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Errorf("line is not valid JSON: %v: %q", err, line)
		}
		count++
	}
	if count != n {
		t.Errorf("got %d parseable lines, want %d", count, n)
	}
}

func TestFromEnv_Precedence(t *testing.T) {
	explicitDir := t.TempDir()
	envDir := t.TempDir()

	t.Setenv(EnvLogDir, envDir)

	sink, err := FromEnv(explicitDir)
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if sink.LogsDir() != explicitDir {
		t.Errorf("explicit arg should win over env var: got %q, want %q", sink.LogsDir(), explicitDir)
	}

	sink2, err := FromEnv("")
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if sink2.LogsDir() != envDir {
		t.Errorf("env var should be used when no explicit arg: got %q, want %q", sink2.LogsDir(), envDir)
	}
}

func TestWriteAsync_DeliversResult(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entry := schema.NewMcp("sess", "info", "async")
	entry.Date = "2026-07-31"

	if err := <-sink.WriteAsync(entry); err != nil {
		t.Fatalf("WriteAsync: %v", err)
	}
}
