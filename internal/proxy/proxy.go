// Package proxy implements the intercepting HTTPS proxy: CONNECT handling
// with MITM or blind tunnel, per-inner-request forwarding, and
// request/response event logging.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/local-logger/internal/certs"
	"github.com/anthropics/local-logger/internal/config"
	"github.com/anthropics/local-logger/internal/logsink"
	"github.com/anthropics/local-logger/internal/schema"
)

// EntryObserver is notified of every entry the proxy writes, e.g. to feed
// a secondary index or a live-tail broadcaster. Implementations must not
// block the write path.
type EntryObserver interface {
	Observe(schema.Entry)
}

// liveTailPath is the loopback-only debug path that upgrades to the
// live-tail WebSocket stream (see internal/livetail). It is matched
// against the request path regardless of Host, since CONNECT already
// routed every other request into MITM/passthrough before ServeHTTP sees
// a plain request here.
const liveTailPath = "/__langley/livetail"

// healthPath answers a liveness probe with 200 OK, matched the same way
// as liveTailPath: by path alone, before any request is treated as
// something to forward upstream.
const healthPath = "/api/health"

// Server is the intercepting HTTPS proxy described by spec §4.E.
type Server struct {
	cfg             *config.Config
	logger          *slog.Logger
	ca              *certs.CA
	certCache       *certs.Cache
	sink            *logsink.Sink
	observers       []EntryObserver
	upstream        *http.Client
	httpServer      *http.Server
	shutdown        sync.WaitGroup
	liveTailHandler http.Handler
}

// SetLiveTailHandler wires a debug WebSocket handler (internal/livetail's
// Hub.Handler()) onto liveTailPath. Optional: a nil handler (the default)
// means the path 404s like any other plain request.
func (s *Server) SetLiveTailHandler(h http.Handler) {
	s.liveTailHandler = h
}

// New builds a Server. ca/certCache may be nil if every CONNECT target is
// expected to go through the passthrough path (no target_hosts match).
func New(cfg *config.Config, logger *slog.Logger, sink *logsink.Sink, ca *certs.CA, observers ...EntryObserver) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	upstream := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			// Native root trust; ForceAttemptHTTP2 plus a nil NextProtos
			// lets the standard transport negotiate either HTTP/1.1 or
			// HTTP/2 upstream depending on what the origin offers.
			ForceAttemptHTTP2: true,
			TLSClientConfig:   &tls.Config{},
			// The transport must never auto-decode the response body: a
			// request with no Accept-Encoding would otherwise get a
			// transparent "gzip" added and the response silently
			// decompressed, stripping Content-Encoding/Content-Length
			// before forwardAndLog ever sees them. The client must receive
			// upstream bytes unchanged (§4.E.3 step 8); BodyData's own
			// gzip handling covers the logged record.
			DisableCompression:    true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 0,
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		sink:      sink,
		observers: observers,
		upstream:  upstream,
	}
	if ca != nil {
		s.ca = ca
		s.certCache = certs.NewCache(ca)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      s,
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Serve binds the listener and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", s.httpServer.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve with the listener already bound, for tests.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
	}()

	s.logger.Info("proxy listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("proxy: serve: %w", err)
	}
	return nil
}

// ServeHTTP dispatches CONNECT into the tunnel state machine. Any other
// request is answered locally when its path is healthPath (or liveTailPath,
// once a handler is set); everything else is forwarded as a plain
// (non-MITM) HTTP proxy request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer s.recoverConnection(r.RemoteAddr)

	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	if r.URL.Path == healthPath {
		w.WriteHeader(http.StatusOK)
		return
	}
	if s.liveTailHandler != nil && r.URL.Path == liveTailPath {
		s.liveTailHandler.ServeHTTP(w, r)
		return
	}
	s.handlePlainHTTP(w, r)
}

// recoverConnection stops a panic in one connection's goroutine from
// taking down the listener, per §4.E.7.
func (s *Server) recoverConnection(remote string) {
	if rec := recover(); rec != nil {
		s.logger.Error("recovered from panic in connection handler", "remote", remote, "panic", rec)
	}
}

// handlePlainHTTP forwards a non-CONNECT request to its absolute URL,
// logging it the same way an inner MITM request is logged.
func (s *Server) handlePlainHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Scheme == "" {
		r.URL.Scheme = "http"
	}
	if r.URL.Host == "" {
		r.URL.Host = r.Host
	}

	result, err := s.forwardAndLog(r)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	relayToResponseWriter(w, result)
}

// shouldIntercept implements §4.E.2's FilterDecision: MITM everything if
// target_hosts is empty, else MITM when any configured entry is a
// substring of hostname.
func (s *Server) shouldIntercept(hostname string) bool {
	targets := s.cfg.Filtering.TargetHosts
	if len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		if strings.Contains(hostname, t) {
			return true
		}
	}
	return false
}

// handleConnect implements states 1-3 and 5 of §4.E.2.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.Host
	if authority == "" {
		http.Error(w, "missing authority", http.StatusBadRequest)
		return
	}
	hostname := authority
	if h, _, err := net.SplitHostPort(authority); err == nil {
		hostname = h
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	if s.shouldIntercept(hostname) && s.certCache != nil {
		s.handleConnectMITM(hijacker, authority, hostname)
		return
	}
	s.handleConnectPassthrough(hijacker, w, authority, hostname)
}

func (s *Server) handleConnectPassthrough(hijacker http.Hijacker, w http.ResponseWriter, authority, hostname string) {
	upstreamConn, err := net.DialTimeout("tcp", authority, 10*time.Second)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		upstreamConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		upstreamConn.Close()
		return
	}

	s.shutdown.Add(1)
	go func() {
		defer s.shutdown.Done()
		defer s.recoverConnection(clientConn.RemoteAddr().String())
		tunnel(clientConn, upstreamConn, s.logger, hostname)
	}()
}

func (s *Server) handleConnectMITM(hijacker http.Hijacker, authority, hostname string) {
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		GetCertificate: s.certCache.GetCertificate,
		NextProtos:     []string{"http/1.1"},
	})
	if err := tlsConn.Handshake(); err != nil {
		s.logger.Debug("TLS handshake failed", "host", hostname, "error", err)
		tlsConn.Close()
		return
	}

	s.shutdown.Add(1)
	go func() {
		defer s.shutdown.Done()
		defer tlsConn.Close()
		defer s.recoverConnection(tlsConn.RemoteAddr().String())
		s.serveMITMConnection(tlsConn, hostname)
	}()
}

// serveMITMConnection runs MitmServe: an inner HTTP/1.1 request loop over
// the freshly TLS-accepted stream, synthesizing https://<host><path> for
// each request from the original CONNECT authority.
func (s *Server) serveMITMConnection(conn net.Conn, host string) {
	reader := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("inner request read failed", "host", host, "error", err)
			}
			return
		}

		req.URL.Scheme = "https"
		req.URL.Host = stripDefaultPort(host)

		result, err := s.forwardAndLog(req)
		if err != nil {
			s.logger.Error("forward failed", "host", host, "error", err)
			return
		}
		if err := writeRawResponse(conn, result); err != nil {
			s.logger.Debug("write response to client failed", "host", host, "error", err)
			return
		}
		if req.Close {
			return
		}
	}
}

func stripDefaultPort(host string) string {
	return strings.TrimSuffix(host, ":443")
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

func removeHopByHopHeaders(h http.Header) {
	conn := h.Get("Connection")
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
	if conn != "" {
		for _, f := range strings.Split(conn, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
}

func newUUID() string { return uuid.New().String() }
