package proxy

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/anthropics/local-logger/internal/schema"
)

// parseURLComponents breaks a request URI into scheme/host/port/path/query,
// splitting each query pair on the first "=" only — a bare key maps to the
// empty string.
func parseURLComponents(rawURL string) *schema.UrlComponents {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil
	}

	host := u.Hostname()
	var port *int
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = &n
		}
	}

	params := make(map[string]string)
	if u.RawQuery != "" {
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if pair == "" {
				continue
			}
			if idx := strings.IndexByte(pair, '='); idx >= 0 {
				params[pair[:idx]] = pair[idx+1:]
			} else {
				params[pair] = ""
			}
		}
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}

	return &schema.UrlComponents{
		Scheme:      scheme,
		Host:        host,
		Port:        port,
		Path:        u.Path,
		QueryParams: params,
	}
}

// detectEndpointPattern applies the §4.E.4 heuristic. "/v1/messages"
// anywhere in the path wins outright; otherwise, under "/api/", segments
// accumulate until one looks like a dynamic ID (longer than 20 chars, or
// entirely digits/hyphens). This is intentionally asymmetric — it is not
// a general URL-template grammar.
func detectEndpointPattern(path string) *string {
	if strings.Contains(path, "/v1/messages") {
		p := "/v1/messages"
		return &p
	}
	if !strings.Contains(path, "/api/") {
		return nil
	}

	var segs []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		segs = append(segs, seg)
		if len(seg) > 20 || isDynamicID(seg) {
			break
		}
	}
	if len(segs) == 0 {
		return nil
	}
	pattern := "/" + strings.Join(segs, "/")
	return &pattern
}

func isDynamicID(seg string) bool {
	for _, r := range seg {
		if !(r >= '0' && r <= '9') && r != '-' {
			return false
		}
	}
	return true
}

var versionPrefixChars = "0123456789."

// extractAPIVersion looks first for a path segment shaped like v[0-9.]+,
// then the anthropic-version header, then api-version (case-insensitive).
func extractAPIVersion(path string, headers map[string]string) *string {
	for _, seg := range strings.Split(path, "/") {
		if len(seg) < 2 || seg[0] != 'v' {
			continue
		}
		rest := seg[1:]
		if rest == "" || strings.Trim(rest, versionPrefixChars) != "" {
			continue
		}
		v := seg
		return &v
	}

	for _, name := range []string{"anthropic-version", "api-version"} {
		if v, ok := lookupHeaderCI(headers, name); ok {
			return &v
		}
	}
	return nil
}

func lookupHeaderCI(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// curlCommand renders a human-replayable curl invocation from an
// already-redacted header map. host/content-length are excluded.
func curlCommand(method, uri string, headers map[string]string, body schema.BodyContent) string {
	var b strings.Builder
	b.WriteString("curl -X ")
	b.WriteString(method)
	b.WriteString(" '")
	b.WriteString(uri)
	b.WriteString("'")

	for k, v := range headers {
		lower := strings.ToLower(k)
		if lower == "host" || lower == "content-length" {
			continue
		}
		b.WriteString(" \\\n  -H '")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("'")
	}

	switch body.Kind {
	case schema.BodyText:
		b.WriteString(" \\\n  -d '")
		b.WriteString(strings.ReplaceAll(body.Data, "'", `'\''`))
		b.WriteString("'")
	case schema.BodyBinary:
		b.WriteString(" \\\n  -d '[BINARY DATA]'")
	}

	return b.String()
}
