// Package tailreader streams the last N events from a daily log file
// without loading the file into memory.
package tailreader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/local-logger/internal/schema"
)

// chunkSize is the backward read window.
const chunkSize = 64 * 1024

// ReadLastN returns the last n successfully-parsed events in path, oldest
// first. It reads backwards in chunkSize windows from EOF, so I/O cost is
// proportional to n and average line length, not file size. Lines that
// fail to parse as JSON (e.g. a partial trailing write from a crashed
// writer) are silently skipped.
func ReadLastN(path string, n int) ([]schema.Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tailreader: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("tailreader: stat %s: %w", path, err)
	}

	offset := info.Size()
	var buf []byte
	var collectedRev []schema.Entry // newest first

	for {
		// Drain every complete line currently sitting at the tail of buf.
		for len(collectedRev) < n {
			nl := bytes.LastIndexByte(buf, '\n')
			if nl < 0 {
				break
			}
			line := buf[nl+1:]
			buf = buf[:nl]
			if len(line) > 0 {
				var e schema.Entry
				if err := json.Unmarshal(line, &e); err == nil {
					collectedRev = append(collectedRev, e)
				}
			}
		}
		if len(collectedRev) >= n || offset == 0 {
			break
		}

		readSize := int64(chunkSize)
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize

		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil {
			return nil, fmt.Errorf("tailreader: read %s: %w", path, err)
		}
		buf = append(chunk, buf...)
	}

	// At offset == 0 with no more newlines, whatever remains in buf is the
	// file's first line (or, on the very first chunk only, a truncated
	// trailing fragment with no newline at all — either way, attempt the
	// parse and silently skip on failure).
	if offset == 0 && len(collectedRev) < n && len(buf) > 0 {
		var e schema.Entry
		if err := json.Unmarshal(buf, &e); err == nil {
			collectedRev = append(collectedRev, e)
		}
	}

	// collectedRev is newest-first; reverse to file order (oldest first).
	out := make([]schema.Entry, len(collectedRev))
	for i, e := range collectedRev {
		out[len(collectedRev)-1-i] = e
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
