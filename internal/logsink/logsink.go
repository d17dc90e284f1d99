// Package logsink appends schema.Entry records to daily-rotated JSONL
// files, serializing concurrent writers (within and across processes)
// with an exclusive advisory file lock.
package logsink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/anthropics/local-logger/internal/schema"
)

// bufferSize matches the OS-level write-coalescing buffer used per write.
const bufferSize = 8192

// EnvLogDir is the environment variable that overrides the logs directory
// when no explicit directory is passed to New.
const EnvLogDir = "LOCAL_LOGGER_LOG_DIR"

// Sink is a cheap, cloneable handle onto a logs directory. Its only field
// is the directory path; there is no shared file handle between writes.
type Sink struct {
	logsDir string
}

// New creates a Sink rooted at logsDir, creating the directory if missing.
func New(logsDir string) (*Sink, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create logs dir: %w", err)
	}
	return &Sink{logsDir: logsDir}, nil
}

// FromEnv resolves the logs directory using the precedence rule: explicit
// dir argument (if non-empty), else EnvLogDir, else $HOME/.local-logger.
func FromEnv(explicitDir string) (*Sink, error) {
	dir := explicitDir
	if dir == "" {
		dir = os.Getenv(EnvLogDir)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("logsink: determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".local-logger")
	}
	return New(dir)
}

// LogsDir returns the directory this sink writes into.
func (s *Sink) LogsDir() string {
	return s.logsDir
}

// PathForDate returns the file path for a given YYYY-MM-DD date string.
func (s *Sink) PathForDate(date string) string {
	return filepath.Join(s.logsDir, date+".jsonl")
}

// Write appends entry to its date's file. It opens the file, takes an
// exclusive cross-process lock, writes one buffered JSON line, flushes,
// and releases the lock on close — the whole sequence is atomic with
// respect to other writers honoring the same lock.
func (s *Sink) Write(entry schema.Entry) error {
	path := s.PathForDate(entry.Date)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logsink: open %s: %w", path, err)
	}
	defer file.Close()

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("logsink: lock %s: %w", path, err)
	}
	defer lock.Unlock()

	w := bufio.NewWriterSize(file, bufferSize)
	if err := json.NewEncoder(w).Encode(entry); err != nil {
		return fmt.Errorf("logsink: encode entry: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("logsink: flush %s: %w", path, err)
	}
	return nil
}

// WriteAsync writes entry on a background goroutine, matching the
// teacher's "blocking I/O off the hot path" idiom (the original's
// spawn_blocking hop). The returned channel receives exactly one error
// (nil on success) once the write completes.
func (s *Sink) WriteAsync(entry schema.Entry) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Write(entry)
	}()
	return done
}
