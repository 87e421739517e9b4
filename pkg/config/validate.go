package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateSandbox(&cfg.Sandbox)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateSiteSync(&cfg.SiteSync)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.Root == "" {
		errs = append(errs, FieldError{Field: "server.root", Message: "serving root is required"})
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("invalid address: %v", err)})
	}
	if cfg.MaxPacketSize <= 0 {
		errs = append(errs, FieldError{Field: "server.max_packet_size", Message: "max packet size must be positive"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must not be negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must not be negative"})
	}
	if cfg.ChunkSize <= 0 {
		errs = append(errs, FieldError{Field: "server.chunk_size", Message: "chunk size must be positive"})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Threshold <= 0 {
		errs = append(errs, FieldError{Field: "limits.threshold", Message: "threshold must be positive"})
	}
	if cfg.Window <= 0 {
		errs = append(errs, FieldError{Field: "limits.window", Message: "window must be positive"})
	}
	if cfg.BanDuration <= 0 {
		errs = append(errs, FieldError{Field: "limits.ban_duration", Message: "ban duration must be positive"})
	}
	if cfg.MaxClients <= 0 {
		errs = append(errs, FieldError{Field: "limits.max_clients", Message: "max clients must be positive"})
	}
	if cfg.CleanupInterval <= 0 {
		errs = append(errs, FieldError{Field: "limits.cleanup_interval", Message: "cleanup interval must be positive"})
	}
	if cfg.Shards <= 0 {
		errs = append(errs, FieldError{Field: "limits.shards", Message: "shards must be positive"})
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, FieldError{Field: "limits.storage.sqlite_path", Message: "sqlite path is required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "limits.storage.backend",
			Message: fmt.Sprintf("unknown backend %q (expected memory or sqlite)", cfg.Storage.Backend),
		})
	}

	return errs
}

func validateSandbox(cfg *SandboxConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxJobs <= 0 {
		errs = append(errs, FieldError{Field: "sandbox.max_jobs", Message: "max jobs must be positive"})
	}
	if cfg.Lifetime <= 0 {
		errs = append(errs, FieldError{Field: "sandbox.lifetime", Message: "lifetime must be positive"})
	}
	if cfg.Grace < 0 {
		errs = append(errs, FieldError{Field: "sandbox.grace", Message: "grace must not be negative"})
	}
	if cfg.MemoryLimitMB < 0 {
		errs = append(errs, FieldError{Field: "sandbox.memory_limit_mb", Message: "memory limit must not be negative"})
	}
	if !strings.HasPrefix(cfg.ScriptExtension, ".") {
		errs = append(errs, FieldError{Field: "sandbox.script_extension", Message: "script extension must start with a dot"})
	}

	return errs
}

func validateFilter(cfg *FilterConfig) []FieldError {
	var errs []FieldError

	if cfg.FileName == "" || strings.ContainsRune(cfg.FileName, '/') {
		errs = append(errs, FieldError{Field: "filter.file_name", Message: "file name must be a plain file name"})
	}
	for i, doc := range cfg.DefaultDocuments {
		if doc == "" || strings.ContainsRune(doc, '/') {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("filter.default_documents[%d]", i),
				Message: "default document must be a plain file name",
			})
		}
	}
	if cfg.Debounce < 0 {
		errs = append(errs, FieldError{Field: "filter.debounce", Message: "debounce must not be negative"})
	}

	return errs
}

func validateJournal(cfg *JournalConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{Field: "journal.sqlite_path", Message: "sqlite path is required for the sqlite backend"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "journal.backend",
			Message: fmt.Sprintf("unknown backend %q (expected memory or sqlite)", cfg.Backend),
		})
	}
	if cfg.Buffer <= 0 {
		errs = append(errs, FieldError{Field: "journal.buffer", Message: "buffer must be positive"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "journal.retention_days", Message: "retention days must not be negative"})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{Field: "journal.prune_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

func validateSiteSync(cfg *SiteSyncConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	if cfg.URL == "" {
		errs = append(errs, FieldError{Field: "sitesync.url", Message: "repository url is required when sync is enabled"})
	}
	switch cfg.AuthType {
	case "none":
	case "token":
		if cfg.Token == "" {
			errs = append(errs, FieldError{Field: "sitesync.token", Message: "token is required for token authentication"})
		}
	case "ssh":
		if cfg.SSHKeyPath == "" {
			errs = append(errs, FieldError{Field: "sitesync.ssh_key_path", Message: "key path is required for ssh authentication"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "sitesync.auth_type",
			Message: fmt.Sprintf("unknown auth type %q (expected none, token or ssh)", cfg.AuthType),
		})
	}
	if cfg.Interval <= 0 {
		errs = append(errs, FieldError{Field: "sitesync.interval", Message: "interval must be positive"})
	}
	if cfg.CloneDepth < 0 {
		errs = append(errs, FieldError{Field: "sitesync.clone_depth", Message: "clone depth must not be negative"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (expected debug, info, warn or error)", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (expected json or text)", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (expected always, never or ratio)", cfg.Tracing.Sampler),
			})
		}
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0 and 1"})
	}

	if (cfg.Metrics.Enabled || cfg.Health.Enabled) && cfg.AdminAddress == "" {
		errs = append(errs, FieldError{Field: "telemetry.admin_address", Message: "admin address is required when metrics or health are enabled"})
	}

	return errs
}
