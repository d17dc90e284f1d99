package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/local-logger/internal/logsink"
)

func testServeLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestControlServer(t *testing.T) *controlServer {
	t.Helper()
	sink, err := logsink.New(t.TempDir())
	if err != nil {
		t.Fatalf("logsink.New: %v", err)
	}
	return &controlServer{sink: sink, logger: testServeLogger()}
}

func TestDispatch_WriteLogThenReadLogs(t *testing.T) {
	s := newTestControlServer(t)

	writeReq := rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params: rpcParams{
			Name:      "write_log",
			Arguments: json.RawMessage(`{"message":"hello","level":"info"}`),
		},
	}
	resp := s.dispatch(writeReq)
	if resp.Error != nil {
		t.Fatalf("write_log error: %+v", resp.Error)
	}

	readReq := rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/call",
		Params: rpcParams{
			Name:      "read_logs",
			Arguments: json.RawMessage(`{"lines":10}`),
		},
	}
	resp = s.dispatch(readReq)
	if resp.Error != nil {
		t.Fatalf("read_logs error: %+v", resp.Error)
	}
}

func TestDispatch_UnknownMethodAndTool(t *testing.T) {
	s := newTestControlServer(t)

	resp := s.dispatch(rpcRequest{JSONRPC: "2.0", Method: "tools/list"})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Errorf("unknown method should yield -32601, got %+v", resp.Error)
	}

	resp = s.dispatch(rpcRequest{JSONRPC: "2.0", Method: "tools/call", Params: rpcParams{Name: "nonexistent"}})
	if resp.Error == nil {
		t.Error("unknown tool should produce an error")
	}
}

func TestListLogFiles_IncludesHumanReadableSize(t *testing.T) {
	dir := t.TempDir()
	sink, err := logsink.New(dir)
	if err != nil {
		t.Fatalf("logsink.New: %v", err)
	}
	s := &controlServer{sink: sink, logger: testServeLogger()}

	path := filepath.Join(dir, "2026-07-31.jsonl")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 2048), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.listLogFiles()
	if err != nil {
		t.Fatalf("listLogFiles: %v", err)
	}
	files, ok := result.([]logFileInfo)
	if !ok {
		t.Fatalf("result type = %T, want []logFileInfo", result)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	if files[0].Name != "2026-07-31.jsonl" {
		t.Errorf("Name = %q, want 2026-07-31.jsonl", files[0].Name)
	}
	if files[0].SizeBytes != 2048 {
		t.Errorf("SizeBytes = %d, want 2048", files[0].SizeBytes)
	}
	if files[0].Size == "" {
		t.Error("Size should be a non-empty human-readable string")
	}
}

func TestListLogFiles_MissingDirReturnsEmpty(t *testing.T) {
	sink, err := logsink.New(filepath.Join(t.TempDir(), "logs"))
	if err != nil {
		t.Fatalf("logsink.New: %v", err)
	}
	s := &controlServer{sink: sink, logger: testServeLogger()}
	if err := os.RemoveAll(sink.LogsDir()); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	result, err := s.listLogFiles()
	if err != nil {
		t.Fatalf("listLogFiles: %v", err)
	}
	files, ok := result.([]logFileInfo)
	if !ok || len(files) != 0 {
		t.Errorf("result = %#v, want empty []logFileInfo", result)
	}
}

func TestDispatch_ClearLog(t *testing.T) {
	s := newTestControlServer(t)

	writeReq := rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params: rpcParams{
			Name:      "write_log",
			Arguments: json.RawMessage(`{"message":"to be cleared"}`),
		},
	}
	if resp := s.dispatch(writeReq); resp.Error != nil {
		t.Fatalf("write_log error: %+v", resp.Error)
	}

	clearReq := rpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		Params: rpcParams{
			Name:      "clear_log",
			Arguments: json.RawMessage(`{"date":"` + nowDate() + `"}`),
		},
	}
	resp := s.dispatch(clearReq)
	if resp.Error != nil {
		t.Fatalf("clear_log error: %+v", resp.Error)
	}

	if _, err := os.Stat(s.sink.PathForDate(nowDate())); !os.IsNotExist(err) {
		t.Error("expected log file to be removed after clear_log")
	}
}
