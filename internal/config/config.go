// Package config loads the proxy's TOML configuration file, with
// environment-variable overrides and CLI-flag overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Environment variable names, per the external-interface precedence rule:
// explicit argument, then env var, then built-in default.
const (
	EnvLogDir    = "LOCAL_LOGGER_LOG_DIR"
	EnvProxyAddr = "LOCAL_LOGGER_PROXY_ADDR"
	EnvProxyPort = "LOCAL_LOGGER_PROXY_PORT"
	EnvCertDir   = "LOCAL_LOGGER_CERT_DIR"
)

const (
	defaultListenAddr  = "127.0.0.1"
	defaultListenPort  = 6969
	defaultMaxBodySize = 10 * 1024 * 1024 // 10 MiB
)

// Config is the root TOML document shape described by spec §6.5.
type Config struct {
	ListenAddr string          `toml:"listen_addr"`
	ListenPort int             `toml:"listen_port"`
	TLS        TLSConfig       `toml:"tls"`
	Recording  RecordingConfig `toml:"recording"`
	Filtering  FilteringConfig `toml:"filtering"`
}

// TLSConfig configures the certificate authority.
type TLSConfig struct {
	CertDir    string `toml:"cert_dir"`
	GenerateCA bool   `toml:"generate_ca"`
}

// RecordingConfig configures what the proxy writes to the log.
type RecordingConfig struct {
	OutputDir     string `toml:"output_dir"`
	PrettyPrint   bool   `toml:"pretty_print"`
	IncludeBodies bool   `toml:"include_bodies"`
	MaxBodySize   int    `toml:"max_body_size"`
}

// FilteringConfig selects which CONNECT targets are MITM'd.
type FilteringConfig struct {
	TargetHosts     []string `toml:"target_hosts"`
	CapturePatterns []string `toml:"capture_patterns"`
}

// Default returns a Config with the defaults named in spec §6.5: port
// 6969, target_hosts = ["api.anthropic.com"], max_body_size = 10 MiB.
func Default() *Config {
	return &Config{
		ListenAddr: defaultListenAddr,
		ListenPort: defaultListenPort,
		TLS: TLSConfig{
			GenerateCA: true,
		},
		Recording: RecordingConfig{
			IncludeBodies: true,
			MaxBodySize:   defaultMaxBodySize,
		},
		Filtering: FilteringConfig{
			TargetHosts: []string{"api.anthropic.com"},
		},
	}
}

// defaultConfigDir returns the platform-specific config/cert home.
func defaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("config: APPDATA is not set")
		}
		return filepath.Join(appData, "local-logger"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", "local-logger"), nil
	}
}

// ConfigDir exposes defaultConfigDir to callers outside the package that
// need the same root directory for non-config files (state, CA, logs).
func ConfigDir() (string, error) {
	return defaultConfigDir()
}

// DefaultConfigPath returns the path Load uses when no explicit path is
// given: <config dir>/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the TOML file at path (Default() values first, so a partial
// file only overrides what it sets), then applies environment overrides.
// A missing file is not an error: defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	configDir, err := defaultConfigDir()
	if err != nil {
		return nil, err
	}
	cfg.TLS.CertDir = filepath.Join(configDir, "certs")
	// Same default as logsink.FromEnv, so proxy, hook and serve share one log.
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: determine home directory: %w", err)
	}
	cfg.Recording.OutputDir = filepath.Join(home, ".local-logger")

	if path == "" {
		path = filepath.Join(configDir, "config.toml")
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvLogDir); v != "" {
		c.Recording.OutputDir = v
	}
	if v := os.Getenv(EnvProxyAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(EnvProxyPort); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.ListenPort = port
		}
	}
	if v := os.Getenv(EnvCertDir); v != "" {
		c.TLS.CertDir = v
	}
}

// Save writes the config as TOML to path with restrictive permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}

// ListenAddress returns the "host:port" string the proxy should bind.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.ListenPort)
}
