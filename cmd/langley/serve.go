package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/anthropics/local-logger/internal/logsink"
	"github.com/anthropics/local-logger/internal/schema"
	"github.com/anthropics/local-logger/internal/tailreader"
)

// rpcRequest is one newline-delimited JSON-RPC 2.0 request, matching the
// tools/call envelope used by stdio MCP clients: method is always
// "tools/call", and params carries the tool name plus its arguments.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  rpcParams       `json:"params"`
}

type rpcParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var dateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// runServe implements the `serve` subcommand (spec §6.3/§6.6): a
// JSON-RPC-over-stdio control server exposing write_log, read_logs,
// list_log_files, and clear_log as thin wrappers around the log sink and
// the reverse tail reader. This dispatch surface is explicitly out of
// scope for deep design per spec §1 — it exists only to exercise the two
// subsystems the rest of this repo implements.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	debugMode := fs.Bool("debug", false, "Enable debug logging")
	_ = fs.Parse(args)

	logLevel := slog.LevelInfo
	if *debugMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	sink, err := logsink.FromEnv("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to open log sink:", err)
		os.Exit(1)
	}

	srv := &controlServer{sink: sink, logger: logger}
	srv.loop(os.Stdin, os.Stdout)
}

type controlServer struct {
	sink   *logsink.Sink
	logger *slog.Logger
}

func (s *controlServer) loop(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error: " + err.Error()}})
			continue
		}
		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Error("failed to write response", "error", err)
			return
		}
	}
}

func (s *controlServer) dispatch(req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if req.Method != "tools/call" {
		resp.Error = &rpcError{Code: -32601, Message: "unknown method " + req.Method}
		return resp
	}

	var result interface{}
	var err error
	switch req.Params.Name {
	case "write_log":
		result, err = s.writeLog(req.Params.Arguments)
	case "read_logs":
		result, err = s.readLogs(req.Params.Arguments)
	case "list_log_files":
		result, err = s.listLogFiles()
	case "clear_log":
		result, err = s.clearLog(req.Params.Arguments)
	default:
		err = fmt.Errorf("unknown tool %q", req.Params.Name)
	}

	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

func (s *controlServer) writeLog(args json.RawMessage) (interface{}, error) {
	var in struct {
		Message string `json:"message"`
		Level   string `json:"level"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("write_log: %w", err)
	}
	if in.Level == "" {
		in.Level = "info"
	}
	entry := schema.NewMcp("control-server", in.Level, in.Message)
	if err := s.sink.Write(entry); err != nil {
		return nil, fmt.Errorf("write_log: %w", err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *controlServer) readLogs(args json.RawMessage) (interface{}, error) {
	var in struct {
		Date  string `json:"date"`
		Lines int    `json:"lines"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("read_logs: %w", err)
		}
	}
	if in.Date == "" {
		in.Date = nowDate()
	}
	if !dateRE.MatchString(in.Date) {
		return nil, fmt.Errorf("read_logs: date must be YYYY-MM-DD, got %q", in.Date)
	}
	if in.Lines <= 0 {
		in.Lines = 100
	}

	path := s.sink.PathForDate(in.Date)
	entries, err := tailreader.ReadLastN(path, in.Lines)
	if err != nil {
		if os.IsNotExist(err) {
			return []schema.Entry{}, nil
		}
		return nil, fmt.Errorf("read_logs: %w", err)
	}
	return entries, nil
}

// logFileInfo describes one daily JSONL file for the list_log_files tool,
// with a human-readable size alongside the exact byte count so a client
// can render either without reformatting.
type logFileInfo struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Size      string `json:"size"`
}

func (s *controlServer) listLogFiles() (interface{}, error) {
	entries, err := os.ReadDir(s.sink.LogsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []logFileInfo{}, nil
		}
		return nil, fmt.Errorf("list_log_files: %w", err)
	}
	files := []logFileInfo{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFileInfo{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			Size:      humanize.IBytes(uint64(info.Size())),
		})
	}
	return files, nil
}

func (s *controlServer) clearLog(args json.RawMessage) (interface{}, error) {
	var in struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("clear_log: %w", err)
	}
	if !dateRE.MatchString(in.Date) {
		return nil, fmt.Errorf("clear_log: date must be YYYY-MM-DD, got %q", in.Date)
	}
	path := s.sink.PathForDate(in.Date)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear_log: %w", err)
	}
	return map[string]bool{"ok": true}, nil
}

func nowDate() string {
	return time.Now().UTC().Format("2006-01-02")
}
