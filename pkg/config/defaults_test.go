package config

import (
	"reflect"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name  string
		input Config
		check func(*testing.T, *Config)
	}{
		{
			name:  "empty config gets all defaults",
			input: Config{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Root != DefaultRoot {
					t.Errorf("expected root %q, got %q", DefaultRoot, cfg.Server.Root)
				}
				if cfg.Server.MaxPacketSize != DefaultMaxPacketSize {
					t.Errorf("expected max packet size %d, got %d", DefaultMaxPacketSize, cfg.Server.MaxPacketSize)
				}
				if cfg.Limits.Threshold != DefaultThreshold {
					t.Errorf("expected threshold %d, got %d", DefaultThreshold, cfg.Limits.Threshold)
				}
				if cfg.Limits.BanDuration != DefaultBanDuration {
					t.Errorf("expected ban duration %v, got %v", DefaultBanDuration, cfg.Limits.BanDuration)
				}
				if cfg.Sandbox.MaxJobs != DefaultMaxJobs {
					t.Errorf("expected max jobs %d, got %d", DefaultMaxJobs, cfg.Sandbox.MaxJobs)
				}
				if cfg.Sandbox.Grace != DefaultGrace {
					t.Errorf("expected grace %v, got %v", DefaultGrace, cfg.Sandbox.Grace)
				}
				if !reflect.DeepEqual(cfg.Filter.DefaultDocuments, DefaultDocuments()) {
					t.Errorf("expected default documents %v, got %v", DefaultDocuments(), cfg.Filter.DefaultDocuments)
				}
				if cfg.Journal.PruneSchedule != DefaultJournalPruneSchedule {
					t.Errorf("expected prune schedule %q, got %q", DefaultJournalPruneSchedule, cfg.Journal.PruneSchedule)
				}
				if cfg.Telemetry.Logging.Level != DefaultLoggingLevel {
					t.Errorf("expected logging level %q, got %q", DefaultLoggingLevel, cfg.Telemetry.Logging.Level)
				}
				if cfg.Telemetry.Metrics.Namespace != DefaultMetricsNamespace {
					t.Errorf("expected namespace %q, got %q", DefaultMetricsNamespace, cfg.Telemetry.Metrics.Namespace)
				}
			},
		},
		{
			name: "explicit values are preserved",
			input: Config{
				Server:  ServerConfig{Root: "/data", MaxPacketSize: 10},
				Limits:  LimitsConfig{Window: time.Minute},
				Sandbox: SandboxConfig{ScriptExtension: ".js"},
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Root != "/data" {
					t.Errorf("expected root /data, got %q", cfg.Server.Root)
				}
				if cfg.Server.MaxPacketSize != 10 {
					t.Errorf("expected max packet size 10, got %d", cfg.Server.MaxPacketSize)
				}
				if cfg.Limits.Window != time.Minute {
					t.Errorf("expected window 1m, got %v", cfg.Limits.Window)
				}
				if cfg.Sandbox.ScriptExtension != ".js" {
					t.Errorf("expected script extension .js, got %q", cfg.Sandbox.ScriptExtension)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			ApplyDefaults(&cfg)
			tt.check(t, &cfg)
		})
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	var first Config
	ApplyDefaults(&first)

	second := first
	ApplyDefaults(&second)

	if !reflect.DeepEqual(first, second) {
		t.Error("ApplyDefaults is not idempotent")
	}
}

func TestApplyDefaults_ProducesValidConfig(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
