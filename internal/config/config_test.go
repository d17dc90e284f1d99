package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.ListenPort != 6969 {
		t.Errorf("ListenPort = %d, want 6969", cfg.ListenPort)
	}
	if len(cfg.Filtering.TargetHosts) != 1 || cfg.Filtering.TargetHosts[0] != "api.anthropic.com" {
		t.Errorf("TargetHosts = %v, want [api.anthropic.com]", cfg.Filtering.TargetHosts)
	}
	if cfg.Recording.MaxBodySize != 10*1024*1024 {
		t.Errorf("MaxBodySize = %d, want 10MiB", cfg.Recording.MaxBodySize)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 6969 {
		t.Errorf("ListenPort = %d, want default 6969", cfg.ListenPort)
	}
}

func TestLoad_PartialFileOnlyOverridesWhatItSets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("listen_port = 7001\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 7001 {
		t.Errorf("ListenPort = %d, want 7001", cfg.ListenPort)
	}
	if len(cfg.Filtering.TargetHosts) != 1 || cfg.Filtering.TargetHosts[0] != "api.anthropic.com" {
		t.Errorf("TargetHosts should keep its default when the file doesn't set it: got %v", cfg.Filtering.TargetHosts)
	}
}

func TestLoad_EnvOverridesBeatFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("listen_port = 7001\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv(EnvProxyPort, "8123")
	t.Setenv(EnvLogDir, filepath.Join(dir, "env-logs"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 8123 {
		t.Errorf("ListenPort = %d, want env override 8123", cfg.ListenPort)
	}
	if cfg.Recording.OutputDir != filepath.Join(dir, "env-logs") {
		t.Errorf("OutputDir = %q, want env override", cfg.Recording.OutputDir)
	}
}

func TestListenAddress(t *testing.T) {
	t.Parallel()

	cfg := &Config{ListenAddr: "127.0.0.1", ListenPort: 6969}
	if got := cfg.ListenAddress(); got != "127.0.0.1:6969" {
		t.Errorf("ListenAddress() = %q, want %q", got, "127.0.0.1:6969")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.toml")

	cfg := Default()
	cfg.ListenPort = 7777
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ListenPort != 7777 {
		t.Errorf("ListenPort after round-trip = %d, want 7777", loaded.ListenPort)
	}
}
