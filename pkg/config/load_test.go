package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "callisto.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  root: "/srv/www"
  listen_address: "127.0.0.1:8081"
  max_packet_size: 2048

limits:
  threshold: 5
  window: "2s"
  ban_duration: "30s"

sandbox:
  max_jobs: 4
  lifetime: "1s"
  error_display: true

filter:
  default_documents: ["main.lua"]

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Root != "/srv/www" {
		t.Errorf("expected root %q, got %q", "/srv/www", cfg.Server.Root)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:8081" {
		t.Errorf("expected listen address %q, got %q", "127.0.0.1:8081", cfg.Server.ListenAddress)
	}
	if cfg.Server.MaxPacketSize != 2048 {
		t.Errorf("expected max packet size 2048, got %d", cfg.Server.MaxPacketSize)
	}
	if cfg.Limits.Threshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.Limits.Threshold)
	}
	if cfg.Limits.Window != 2*time.Second {
		t.Errorf("expected window 2s, got %v", cfg.Limits.Window)
	}
	if cfg.Sandbox.Lifetime != time.Second {
		t.Errorf("expected lifetime 1s, got %v", cfg.Sandbox.Lifetime)
	}
	if !cfg.Sandbox.ErrorDisplay {
		t.Error("expected error display to be enabled")
	}
	if len(cfg.Filter.DefaultDocuments) != 1 || cfg.Filter.DefaultDocuments[0] != "main.lua" {
		t.Errorf("expected default documents [main.lua], got %v", cfg.Filter.DefaultDocuments)
	}

	// Defaults fill the rest
	if cfg.Sandbox.Grace != DefaultGrace {
		t.Errorf("expected grace %v, got %v", DefaultGrace, cfg.Sandbox.Grace)
	}
	if cfg.Filter.FileName != DefaultFilterFileName {
		t.Errorf("expected filter file name %q, got %q", DefaultFilterFileName, cfg.Filter.FileName)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  root: [unterminated\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
limits:
  threshold: -1
  storage:
    backend: "redis"
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var vErr ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(vErr.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %d: %v", len(vErr.Errors), vErr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  root: "/srv/www"
`)

	t.Setenv("CALLISTO_SERVER_ROOT", "/override")
	t.Setenv("CALLISTO_LIMITS_THRESHOLD", "7")
	t.Setenv("CALLISTO_SANDBOX_LIFETIME", "250ms")
	t.Setenv("CALLISTO_SANDBOX_ERROR_DISPLAY", "true")
	t.Setenv("CALLISTO_FILTER_DEFAULT_DOCUMENTS", "a.lua, b.html")
	t.Setenv("CALLISTO_TELEMETRY_TRACING_SAMPLE_RATIO", "0.5")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Root != "/override" {
		t.Errorf("expected root override, got %q", cfg.Server.Root)
	}
	if cfg.Limits.Threshold != 7 {
		t.Errorf("expected threshold 7, got %d", cfg.Limits.Threshold)
	}
	if cfg.Sandbox.Lifetime != 250*time.Millisecond {
		t.Errorf("expected lifetime 250ms, got %v", cfg.Sandbox.Lifetime)
	}
	if !cfg.Sandbox.ErrorDisplay {
		t.Error("expected error display override")
	}
	if got := cfg.Filter.DefaultDocuments; len(got) != 2 || got[0] != "a.lua" || got[1] != "b.html" {
		t.Errorf("expected [a.lua b.html], got %v", got)
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.5 {
		t.Errorf("expected sample ratio 0.5, got %v", cfg.Telemetry.Tracing.SampleRatio)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidEnvValues(t *testing.T) {
	path := writeConfig(t, "server:\n  root: /srv\n")

	t.Setenv("CALLISTO_LIMITS_THRESHOLD", "many")
	t.Setenv("CALLISTO_SANDBOX_LIFETIME", "forever")
	t.Setenv("CALLISTO_SANDBOX_ERROR_DISPLAY", "maybe")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Limits.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold, got %d", cfg.Limits.Threshold)
	}
	if cfg.Sandbox.Lifetime != DefaultLifetime {
		t.Errorf("expected default lifetime, got %v", cfg.Sandbox.Lifetime)
	}
	if cfg.Sandbox.ErrorDisplay {
		t.Error("expected error display to stay disabled")
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("CALLISTO_SERVER_LISTEN_ADDRESS", "127.0.0.1:9999")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9999" {
		t.Errorf("expected env override, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.Root != DefaultRoot {
		t.Errorf("expected default root, got %q", cfg.Server.Root)
	}
}
