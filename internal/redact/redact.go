// Package redact scrubs sensitive header values out of captured proxy
// traffic before it is logged.
package redact

import (
	"net/http"
	"strings"
)

// Sensitive is the fixed, lowercase-compared set of header names whose
// values are always redacted, regardless of configuration.
var Sensitive = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"api-key":             true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-session-token":     true,
	"proxy-authorization": true,
	"www-authenticate":    true,
	"authentication":      true,
}

// RedactedValue is the replacement for a redacted header value.
const RedactedValue = "[REDACTED]"

// Headers flattens an http.Header (joining repeated values with ", ") and
// redacts every sensitive name, preserving original key casing.
func Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = Value(name, strings.Join(values, ", "))
	}
	return out
}

// HeaderMap returns a redacted copy of an already-flattened header map;
// the input map is not modified. Used when headers arrive as map[string]string rather than
// http.Header (e.g. from a raw HTTP/1.1 parse).
func HeaderMap(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for name, value := range h {
		out[name] = Value(name, value)
	}
	return out
}

// Value redacts a single header value given its name. An authorization
// value containing a space keeps its scheme token verbatim: "Bearer xyz"
// becomes "[REDACTED:Bearer]". Every other sensitive header is fully
// replaced.
func Value(name, value string) string {
	if !Sensitive[strings.ToLower(name)] {
		return value
	}
	if strings.EqualFold(name, "authorization") {
		if idx := strings.IndexByte(value, ' '); idx >= 0 {
			return "[REDACTED:" + value[:idx] + "]"
		}
	}
	return RedactedValue
}
