package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "CALLISTO_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention CALLISTO_SECTION_FIELD (e.g., CALLISTO_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied and
// environment overrides honoured. It is used when no file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_ROOT", &cfg.Server.Root)
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envInt("SERVER_MAX_PACKET_SIZE", &cfg.Server.MaxPacketSize)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Limits overrides
	envInt("LIMITS_THRESHOLD", &cfg.Limits.Threshold)
	envDuration("LIMITS_WINDOW", &cfg.Limits.Window)
	envDuration("LIMITS_BAN_DURATION", &cfg.Limits.BanDuration)
	envInt("LIMITS_MAX_CLIENTS", &cfg.Limits.MaxClients)
	envString("LIMITS_STORAGE_BACKEND", &cfg.Limits.Storage.Backend)
	envString("LIMITS_STORAGE_SQLITE_PATH", &cfg.Limits.Storage.SQLitePath)

	// Sandbox overrides
	envInt("SANDBOX_MAX_JOBS", &cfg.Sandbox.MaxJobs)
	envDuration("SANDBOX_LIFETIME", &cfg.Sandbox.Lifetime)
	envInt("SANDBOX_MEMORY_LIMIT_MB", &cfg.Sandbox.MemoryLimitMB)
	envBool("SANDBOX_ERROR_DISPLAY", &cfg.Sandbox.ErrorDisplay)
	envString("SANDBOX_WORKER_BINARY", &cfg.Sandbox.WorkerBinary)

	// Filter overrides
	envBool("FILTER_CACHE", &cfg.Filter.Cache)
	if val := os.Getenv(EnvPrefix + "FILTER_DEFAULT_DOCUMENTS"); val != "" {
		docs := strings.Split(val, ",")
		for i := range docs {
			docs[i] = strings.TrimSpace(docs[i])
		}
		cfg.Filter.DefaultDocuments = docs
	}

	// Journal overrides
	envBool("JOURNAL_ENABLED", &cfg.Journal.Enabled)
	envString("JOURNAL_BACKEND", &cfg.Journal.Backend)
	envString("JOURNAL_SQLITE_PATH", &cfg.Journal.SQLitePath)
	envInt("JOURNAL_RETENTION_DAYS", &cfg.Journal.RetentionDays)

	// Site sync overrides
	envBool("SITESYNC_ENABLED", &cfg.SiteSync.Enabled)
	envString("SITESYNC_URL", &cfg.SiteSync.URL)
	envString("SITESYNC_BRANCH", &cfg.SiteSync.Branch)
	envString("SITESYNC_TOKEN", &cfg.SiteSync.Token)
	envDuration("SITESYNC_INTERVAL", &cfg.SiteSync.Interval)

	// Telemetry overrides
	envString("TELEMETRY_ADMIN_ADDRESS", &cfg.Telemetry.AdminAddress)
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
	envBool("TELEMETRY_HEALTH_ENABLED", &cfg.Telemetry.Health.Enabled)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
