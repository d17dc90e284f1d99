package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/anthropics/local-logger/internal/logsink"
	"github.com/anthropics/local-logger/internal/schema"
)

// EnvHookSessionID lets the host assistant thread its own session
// identifier through the hook CLI; when unset a fresh one is generated.
const EnvHookSessionID = "LOCAL_LOGGER_SESSION_ID"

var hookKnownFields = map[string]bool{
	"event_type": true, "tool_name": true, "tool_input": true,
	"transcript_path": true, "cwd": true,
}

// runHook implements the `hook` subcommand (spec §6.3): read one JSON
// document from stdin, append one Hook event, exit 0 on success or
// non-zero if the document is unreadable.
func runHook() int {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to read stdin:", err)
		return 1
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		fmt.Fprintln(os.Stderr, "Error: invalid JSON on stdin:", err)
		return 1
	}

	hook := schema.HookEvent{Extra: make(map[string]json.RawMessage)}
	if v, ok := fields["event_type"]; ok {
		_ = json.Unmarshal(v, &hook.EventType)
	}
	if v, ok := fields["tool_name"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			hook.ToolName = &s
		}
	}
	if v, ok := fields["tool_input"]; ok {
		hook.ToolInput = v
	}
	if v, ok := fields["transcript_path"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			hook.TranscriptPath = &s
		}
	}
	if v, ok := fields["cwd"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			hook.Cwd = &s
		}
	}
	for k, v := range fields {
		if !hookKnownFields[k] {
			hook.Extra[k] = v
		}
	}
	if len(hook.Extra) == 0 {
		hook.Extra = nil
	}

	sink, err := logsink.FromEnv("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to open log sink:", err)
		return 1
	}

	sessionID := os.Getenv(EnvHookSessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	correlationID := uuid.New().String()

	entry := schema.NewHook(sessionID, correlationID, hook)
	if err := sink.Write(entry); err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to write hook event:", err)
		return 1
	}
	return 0
}
