// Command langley is the local observability sidecar: an intercepting
// HTTPS proxy with its own certificate authority, a hook event ingester,
// and a stdio control server, all funneling into one daily-rotated JSONL
// log under the configured logs directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/anthropics/local-logger/internal/certs"
	"github.com/anthropics/local-logger/internal/config"
	"github.com/anthropics/local-logger/internal/index"
	"github.com/anthropics/local-logger/internal/livetail"
	"github.com/anthropics/local-logger/internal/logsink"
	"github.com/anthropics/local-logger/internal/proxy"
	"github.com/anthropics/local-logger/internal/schema"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hook":
			os.Exit(runHook())
		case "proxy":
			runProxy(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "-help", "--help", "-h":
			printHelp()
			return
		}
	}
	runServe(os.Args[1:])
}

// --- proxy subcommand ---

func runProxy(args []string) {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	port := fs.Int("port", 0, "Listen port (overrides config)")
	debugMode := fs.Bool("debug", false, "Enable debug logging")
	showVersion := fs.Bool("version", false, "Show version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Printf("langley %s (%s)\n", version, commit)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debugMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		printError("Failed to load configuration", err, configLoadFix(*configPath))
	}
	if *port != 0 {
		cfg.ListenPort = *port
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		printError("Failed to determine config directory", err, configLoadFix(""))
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		printError("Failed to create config directory", err, caPermissionFix(configDir))
	}

	ca, err := certs.LoadOrCreateCA(cfg.TLS.CertDir, logger)
	if err != nil {
		if isPermissionError(err) {
			printError("Failed to load/create CA certificate", err, caPermissionFix(cfg.TLS.CertDir))
		} else if isCorruptCert(err) {
			printError("CA certificate is corrupted", err, caCorruptFix(cfg.TLS.CertDir))
		} else {
			printError("Failed to load/create CA certificate", err, caCorruptFix(cfg.TLS.CertDir))
		}
	}
	caPath := filepath.Join(cfg.TLS.CertDir, "ca.pem")
	logger.Info("CA ready", "path", caPath)

	sink, err := logsink.New(cfg.Recording.OutputDir)
	if err != nil {
		printError("Failed to open logs directory", err, configLoadFix(""))
	}

	idxPath := filepath.Join(configDir, "index.db")
	idx, idxErr := index.Open(idxPath, logger)
	if idxErr != nil {
		logger.Warn("log index unavailable, continuing without it", "error", idxErr)
	}

	hub := livetail.NewHub(logger)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	var observers []proxy.EntryObserver
	if idx != nil {
		observers = append(observers, indexObserver{idx})
	}
	observers = append(observers, liveTailObserver{hub})

	srv := proxy.New(cfg, logger, sink, ca, observers...)
	srv.SetLiveTailHandler(hub.Handler())

	const maxPortAttempts = 10
	ln, actualAddr, err := listenWithFallback(cfg.ListenAddress(), maxPortAttempts)
	if err != nil {
		printError("Failed to bind proxy listener", err, portInUseFix(cfg.ListenAddress(), maxPortAttempts))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	stateStore, stateErr := NewFileStateStore()
	if stateErr == nil {
		_ = stateStore.Write(ServerState{
			ProxyAddr: actualAddr,
			CAPath:    caPath,
			PID:       os.Getpid(),
			StartedAt: time.Now().UTC(),
		})
		defer func() { _ = stateStore.Delete() }()
	}

	// The banner is for a human at a terminal; skip it when stderr is
	// redirected or captured by a process supervisor.
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "\n  Proxy: http://%s\n  CA:    %s\n  Max body size: %s\n",
			actualAddr, caPath, humanize.IBytes(uint64(cfg.Recording.MaxBodySize)))
		fmt.Fprint(os.Stderr, "\n"+formatEnvVars(actualAddr, caPath, strings.ToLower(runtime.GOOS))+"\n")
	}

	if err := srv.ServeListener(ctx, ln); err != nil {
		logger.Error("proxy error", "error", err)
	}

	close(hubStop)
	if idx != nil {
		_ = idx.Close()
	}
	logger.Info("langley proxy shutdown complete")
}

type indexObserver struct{ idx *index.Index }

func (o indexObserver) Observe(e schema.Entry) { o.idx.Record(e) }

type liveTailObserver struct{ hub *livetail.Hub }

func (o liveTailObserver) Observe(e schema.Entry) { o.hub.Publish(e) }

// --- generic port-fallback helpers, shared by the proxy subcommand ---

func listenWithFallback(baseAddr string, maxAttempts int) (net.Listener, string, error) {
	host, portStr, err := net.SplitHostPort(baseAddr)
	if err != nil {
		return nil, "", fmt.Errorf("invalid listen address %q: %w", baseAddr, err)
	}
	basePort, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, "", fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		addr := net.JoinHostPort(host, strconv.Itoa(basePort+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, addr, nil
		}
		if !isAddrInUse(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("all %d ports starting at %s in use: %w", maxAttempts, baseAddr, lastErr)
}

func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "Only one usage of each socket address") ||
		strings.Contains(msg, "EADDRINUSE")
}

func printHelp() {
	fmt.Println(`langley - local observability sidecar for an AI coding assistant

Usage:
  langley [serve]      start the stdio control server (default)
  langley hook         read one JSON hook payload from stdin and log it
  langley proxy [flags] start the intercepting HTTPS proxy

Proxy flags:
  -config string   path to config file
  -port int        listen port (overrides config)
  -debug           enable debug logging
  -version         show version and exit`)
}
