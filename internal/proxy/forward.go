package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/local-logger/internal/redact"
	"github.com/anthropics/local-logger/internal/schema"
)

// forwardResult is everything ForwardAndLog produces, for the caller to
// relay to the client however its transport requires.
type forwardResult struct {
	status     int
	header     http.Header
	body       []byte
	durationMs int64
}

// forwardAndLog implements §4.E.3 end to end: log the request, forward it
// upstream with native TLS trust and both HTTP/1 and HTTP/2 enabled, log
// the response, and return enough to relay it byte-for-byte to the
// client. Upstream/log errors never abort the caller's connection; a
// synthesized 502 is returned on upstream failure, per §4.E.7.
func (s *Server) forwardAndLog(req *http.Request) (*forwardResult, error) {
	// session_id is fresh per inner request by design (see the session_id
	// decision in DESIGN.md); correlation_id ties this request to its
	// response.
	sessionID := newUUID()
	requestID := newUUID()
	correlationID := requestID

	reqBody, err := io.ReadAll(req.Body)
	if err != nil {
		reqBody = nil
	}
	_ = req.Body.Close()

	maxBody := s.cfg.Recording.MaxBodySize
	redactedReqHeaders := redact.Headers(req.Header)
	uri := req.URL.String()

	reqEvent := schema.ProxyRequestEvent{
		ID:      requestID,
		Method:  req.Method,
		URI:     uri,
		Headers: redactedReqHeaders,
		Body: schema.BodyDataFromBytes(
			reqBody, req.Header.Get("Content-Encoding"), req.Header.Get("Content-Type"), maxBody),
		URLComponents:   parseURLComponents(uri),
		EndpointPattern: detectEndpointPattern(req.URL.Path),
		APIVersion:      extractAPIVersion(req.URL.Path, redactedReqHeaders),
	}
	body := schema.BodyContent{}
	if s.cfg.Recording.IncludeBodies {
		body = reqEvent.Body.Content
	}
	curl := curlCommand(req.Method, uri, redactedReqHeaders, body)
	reqEvent.CurlCommand = &curl

	s.writeEntry(schema.NewProxyRequest(sessionID, correlationID, reqEvent))

	outReq, err := http.NewRequestWithContext(req.Context(), req.Method, uri, bytes.NewReader(reqBody))
	if err != nil {
		return s.synthesizedError(sessionID, correlationID, requestID), nil
	}
	copyHeaders(outReq.Header, req.Header)
	removeHopByHopHeaders(outReq.Header)

	start := time.Now()
	resp, err := s.upstream.Do(outReq)
	if err != nil {
		result := s.synthesizedError(sessionID, correlationID, requestID)
		return result, nil
	}
	defer resp.Body.Close()
	durationMs := time.Since(start).Milliseconds()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respBody = nil
	}

	respHeaders := redact.Headers(resp.Header)
	respEvent := schema.ProxyResponseEvent{
		RequestID: requestID,
		Status:    resp.StatusCode,
		Headers:   respHeaders,
		Body: schema.BodyDataFromBytes(
			respBody, resp.Header.Get("Content-Encoding"), resp.Header.Get("Content-Type"), maxBody),
		DurationMs: durationMs,
	}
	s.writeEntry(schema.NewProxyResponse(sessionID, correlationID, respEvent))

	return &forwardResult{
		status:     resp.StatusCode,
		header:     resp.Header,
		body:       respBody,
		durationMs: durationMs,
	}, nil
}

// synthesizedError builds the 502 ProxyResponse event §4.E.7 requires when
// the upstream connection/TLS/HTTP attempt itself fails.
func (s *Server) synthesizedError(sessionID, correlationID, requestID string) *forwardResult {
	respEvent := schema.ProxyResponseEvent{
		RequestID:  requestID,
		Status:     http.StatusBadGateway,
		Headers:    map[string]string{},
		Body:       schema.BodyDataFromBytes(nil, "", "", 0),
		DurationMs: 0,
	}
	s.writeEntry(schema.NewProxyResponse(sessionID, correlationID, respEvent))
	return &forwardResult{
		status: http.StatusBadGateway,
		header: http.Header{},
		body:   []byte("Bad Gateway"),
	}
}

// writeEntry writes entry via the log sink, swallowing any error after
// emitting a best-effort ProxyDebug entry, per §4.B/§4.E.3 step 4 and §7.
func (s *Server) writeEntry(entry schema.Entry) {
	if err := s.sink.Write(entry); err != nil {
		debugEntry := schema.NewProxyDebug(entry.SessionID, "ERROR", fmt.Sprintf("log write failed: %v", err))
		_ = s.sink.Write(debugEntry)
		s.logger.Debug("log sink write failed", "error", err)
	}
	for _, obs := range s.observers {
		obs.Observe(entry)
	}
}

// writeRawResponse serializes a forwardResult as a raw HTTP/1.1 response
// directly onto a hijacked connection (the MITM inner-server path, which
// has no http.ResponseWriter to hand off to).
func writeRawResponse(conn net.Conn, r *forwardResult) error {
	status := r.status
	text := http.StatusText(status)
	if text == "" {
		text = "Unknown"
	}
	if _, err := fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n", status, text); err != nil {
		return err
	}

	header := r.header.Clone()
	removeHopByHopHeaders(header)
	header.Set("Content-Length", fmt.Sprintf("%d", len(r.body)))
	if err := header.Write(conn); err != nil {
		return err
	}
	if _, err := conn.Write([]byte("\r\n")); err != nil {
		return err
	}
	_, err := conn.Write(r.body)
	return err
}

// relayToResponseWriter writes a forwardResult via the standard
// http.ResponseWriter interface (the plain, non-MITM forward-proxy path).
func relayToResponseWriter(w http.ResponseWriter, r *forwardResult) {
	dst := w.Header()
	for k, v := range r.header {
		dst[k] = v
	}
	removeHopByHopHeaders(dst)
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body)
}
