package redact

import (
	"net/http"
	"testing"
)

func TestHeaders_RedactsSensitiveJoinsRepeatedValues(t *testing.T) {
	t.Parallel()

	h := http.Header{
		"Authorization": []string{"Bearer sk-ant-api03-xxx"},
		"Cookie":        []string{"a=1", "b=2"},
		"Content-Type":  []string{"application/json"},
		"X-Api-Key":     []string{"secret"},
	}

	got := Headers(h)

	if got["Authorization"] != "[REDACTED:Bearer]" {
		t.Errorf("Authorization = %q, want [REDACTED:Bearer]", got["Authorization"])
	}
	if got["Cookie"] != RedactedValue {
		t.Errorf("Cookie = %q, want %q", got["Cookie"], RedactedValue)
	}
	if got["X-Api-Key"] != RedactedValue {
		t.Errorf("X-Api-Key = %q, want %q", got["X-Api-Key"], RedactedValue)
	}
	if got["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q, want unchanged", got["Content-Type"])
	}
}

func TestHeaders_CaseInsensitiveMatch(t *testing.T) {
	t.Parallel()

	h := http.Header{"X-Session-Token": []string{"abc"}}
	got := Headers(h)
	if got["X-Session-Token"] != RedactedValue {
		t.Errorf("X-Session-Token = %q, want %q", got["X-Session-Token"], RedactedValue)
	}
}

func TestHeaderMap_RedactsIntoCopy(t *testing.T) {
	t.Parallel()

	in := map[string]string{
		"authorization": "Basic dXNlcjpwYXNz",
		"x-auth-token":  "tok-123",
		"accept":        "*/*",
	}
	got := HeaderMap(in)

	if got["authorization"] != "[REDACTED:Basic]" {
		t.Errorf("authorization = %q, want [REDACTED:Basic]", got["authorization"])
	}
	if got["x-auth-token"] != RedactedValue {
		t.Errorf("x-auth-token = %q, want %q", got["x-auth-token"], RedactedValue)
	}
	if got["accept"] != "*/*" {
		t.Errorf("accept = %q, want unchanged", got["accept"])
	}
	// HeaderMap must not mutate the caller's map.
	if in["authorization"] != "Basic dXNlcjpwYXNz" {
		t.Error("HeaderMap mutated its input map in place")
	}
}

func TestValue_NonSensitiveHeaderPassesThrough(t *testing.T) {
	t.Parallel()

	if got := Value("User-Agent", "langley/1.0"); got != "langley/1.0" {
		t.Errorf("Value() = %q, want unchanged", got)
	}
}

func TestValue_AuthorizationWithoutSchemeIsFullyRedacted(t *testing.T) {
	t.Parallel()

	if got := Value("Authorization", "opaque-token-no-space"); got != RedactedValue {
		t.Errorf("Value() = %q, want %q (no scheme token to preserve)", got, RedactedValue)
	}
}

func TestValue_SensitiveNamesAreAllRedacted(t *testing.T) {
	t.Parallel()

	for name := range Sensitive {
		if name == "authorization" {
			continue // covered by the scheme-preservation tests above
		}
		if got := Value(name, "secret-value"); got != RedactedValue {
			t.Errorf("Value(%q, ...) = %q, want %q", name, got, RedactedValue)
		}
	}
}
