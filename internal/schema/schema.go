// Package schema defines the versioned, tagged-union event model written to
// the daily log files, and the body-capture helpers used to turn arbitrary
// request/response bytes into something safe to persist.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every entry written by this build.
const SchemaVersion = 1

// EventType discriminates the tagged union stored in Entry.Event.
type EventType string

const (
	EventMcp           EventType = "Mcp"
	EventHook          EventType = "Hook"
	EventProxyRequest  EventType = "ProxyRequest"
	EventProxyResponse EventType = "ProxyResponse"
	EventProxyDebug    EventType = "ProxyDebug"
)

// Entry is the durable envelope written once per line to a daily log file.
type Entry struct {
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	Date          string    `json:"date"`
	SessionID     string    `json:"session_id"`
	CorrelationID string    `json:"correlation_id"`
	Event         Event     `json:"event"`
}

// Event is the closed sum of everything that can appear in Entry.Event.
// Exactly one of the typed fields is non-nil; Type names which one.
type Event struct {
	Type EventType

	Mcp           *McpEvent
	Hook          *HookEvent
	ProxyRequest  *ProxyRequestEvent
	ProxyResponse *ProxyResponseEvent
	ProxyDebug    *ProxyDebugEvent
}

// MarshalJSON encodes the active variant with a "type" discriminator field
// as a sibling of the variant's own fields (a flattened tagged union).
func (e Event) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch e.Type {
	case EventMcp:
		payload = e.Mcp
	case EventHook:
		payload = e.Hook
	case EventProxyRequest:
		payload = e.ProxyRequest
	case EventProxyResponse:
		payload = e.ProxyResponse
	case EventProxyDebug:
		payload = e.ProxyDebug
	default:
		return nil, fmt.Errorf("schema: unknown event type %q", e.Type)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalJSON dispatches on the "type" discriminator to the matching
// variant struct, then decodes the whole object into it (the discriminator
// field itself is ignored by the variant struct, which has no "type" tag).
func (e *Event) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	e.Type = probe.Type
	switch probe.Type {
	case EventMcp:
		e.Mcp = &McpEvent{}
		return json.Unmarshal(data, e.Mcp)
	case EventHook:
		e.Hook = &HookEvent{}
		return json.Unmarshal(data, e.Hook)
	case EventProxyRequest:
		e.ProxyRequest = &ProxyRequestEvent{}
		return json.Unmarshal(data, e.ProxyRequest)
	case EventProxyResponse:
		e.ProxyResponse = &ProxyResponseEvent{}
		return json.Unmarshal(data, e.ProxyResponse)
	case EventProxyDebug:
		e.ProxyDebug = &ProxyDebugEvent{}
		return json.Unmarshal(data, e.ProxyDebug)
	default:
		return fmt.Errorf("schema: unknown event type %q", probe.Type)
	}
}

// McpEvent is a free-form log line emitted by the control server.
type McpEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HookEvent is emitted by the hook CLI from one JSON document read on stdin.
// Extra carries whatever additional fields the hook payload contained; they
// are flattened into the enclosing object, not nested under "extra".
type HookEvent struct {
	EventType      string                     `json:"event_type"`
	ToolName       *string                    `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage            `json:"tool_input,omitempty"`
	TranscriptPath *string                    `json:"transcript_path,omitempty"`
	Cwd            *string                    `json:"cwd,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Extra's keys as siblings of the named fields.
func (h HookEvent) MarshalJSON() ([]byte, error) {
	type alias HookEvent
	body, err := json.Marshal(alias(h))
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	for k, v := range h.Extra {
		if _, reserved := fields[k]; reserved {
			continue
		}
		fields[k] = v
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the named fields normally and collects every other
// top-level key into Extra.
func (h *HookEvent) UnmarshalJSON(data []byte) error {
	type alias HookEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*h = HookEvent(a)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	known := map[string]bool{
		"event_type": true, "tool_name": true, "tool_input": true,
		"transcript_path": true, "cwd": true, "type": true,
	}
	h.Extra = make(map[string]json.RawMessage)
	for k, v := range all {
		if !known[k] {
			h.Extra[k] = v
		}
	}
	if len(h.Extra) == 0 {
		h.Extra = nil
	}
	return nil
}

// ProxyRequestEvent describes one inner request captured by the proxy.
type ProxyRequestEvent struct {
	ID              string            `json:"id"`
	Method          string            `json:"method"`
	URI             string            `json:"uri"`
	Headers         map[string]string `json:"headers"`
	Body            BodyData          `json:"body"`
	TLSHandshakeMs  *int64            `json:"tls_handshake_ms,omitempty"`
	URLComponents   *UrlComponents    `json:"url_components,omitempty"`
	CurlCommand     *string           `json:"curl_command,omitempty"`
	EndpointPattern *string           `json:"endpoint_pattern,omitempty"`
	APIVersion      *string           `json:"api_version,omitempty"`
}

// ProxyResponseEvent describes the upstream response paired with a request.
type ProxyResponseEvent struct {
	RequestID  string            `json:"request_id"`
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       BodyData          `json:"body"`
	DurationMs int64             `json:"duration_ms"`
}

// ProxyDebugEvent carries best-effort diagnostics from the proxy, e.g. a
// swallowed log-sink write failure.
type ProxyDebugEvent struct {
	Level   string  `json:"level"`
	Message string  `json:"message"`
	Module  *string `json:"module,omitempty"`
	Target  *string `json:"target,omitempty"`
	File    *string `json:"file,omitempty"`
	Line    *int    `json:"line,omitempty"`
}

// UrlComponents is the parsed shape of a request URI.
type UrlComponents struct {
	Scheme      string            `json:"scheme"`
	Host        string            `json:"host"`
	Port        *int              `json:"port,omitempty"`
	Path        string            `json:"path"`
	QueryParams map[string]string `json:"query_params"`
}

func newDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func newUUID() string {
	return uuid.New().String()
}

func stamp(sessionID, correlationID string, event Event) Entry {
	now := time.Now().UTC()
	return Entry{
		SchemaVersion: SchemaVersion,
		Timestamp:     now,
		Date:          newDate(now),
		SessionID:     sessionID,
		CorrelationID: correlationID,
		Event:         event,
	}
}

// NewMcp builds an Entry carrying an Mcp event. session_id is supplied by
// the caller; a fresh correlation_id is generated since Mcp entries are not
// paired with anything else.
func NewMcp(sessionID, level, message string) Entry {
	return stamp(sessionID, newUUID(), Event{Type: EventMcp, Mcp: &McpEvent{Level: level, Message: message}})
}

// NewHook builds an Entry carrying a Hook event.
func NewHook(sessionID, correlationID string, hook HookEvent) Entry {
	return stamp(sessionID, correlationID, Event{Type: EventHook, Hook: &hook})
}

// NewProxyRequest builds an Entry carrying a ProxyRequest event. The caller
// supplies session_id/correlation_id so the paired response can share them.
func NewProxyRequest(sessionID, correlationID string, req ProxyRequestEvent) Entry {
	return stamp(sessionID, correlationID, Event{Type: EventProxyRequest, ProxyRequest: &req})
}

// NewProxyResponse builds an Entry carrying a ProxyResponse event.
func NewProxyResponse(sessionID, correlationID string, resp ProxyResponseEvent) Entry {
	return stamp(sessionID, correlationID, Event{Type: EventProxyResponse, ProxyResponse: &resp})
}

// NewProxyDebug builds an Entry carrying a ProxyDebug event with a fresh
// correlation_id, mirroring NewMcp.
func NewProxyDebug(sessionID, level, message string) Entry {
	return stamp(sessionID, newUUID(), Event{Type: EventProxyDebug, ProxyDebug: &ProxyDebugEvent{Level: level, Message: message}})
}
