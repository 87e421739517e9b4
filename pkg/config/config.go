package config

import "time"

// Config is the root configuration structure for Callisto.
// It contains every section consumed at startup: the raw TCP front end,
// admission limits, the sandbox, rule evaluation, the access journal,
// site synchronisation and telemetry.
type Config struct {
	// Server contains the raw TCP listener and static serving settings.
	Server ServerConfig `yaml:"server"`

	// Limits contains per-client rate limiting and ban settings.
	Limits LimitsConfig `yaml:"limits"`

	// Sandbox contains the script worker process settings.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Filter contains rule file discovery settings.
	Filter FilterConfig `yaml:"filter"`

	// Journal contains access decision journal settings.
	Journal JournalConfig `yaml:"journal"`

	// SiteSync contains settings for pulling the serving root from git.
	SiteSync SiteSyncConfig `yaml:"sitesync"`

	// Telemetry contains configuration for logging, metrics, tracing
	// and health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the raw TCP front end.
type ServerConfig struct {
	// Root is the directory served to clients. Rule files and scripts
	// are resolved below it.
	// Default: "./www"
	Root string `yaml:"root"`

	// ListenAddress is the address and port to accept connections on.
	// Format: "host:port".
	// Default: "0.0.0.0:8080"
	ListenAddress string `yaml:"listen_address"`

	// MaxPacketSize is the maximum number of bytes accumulated for a single
	// request head. Larger requests are answered with 431.
	// Default: 1048576 (1MB)
	MaxPacketSize int `yaml:"max_packet_size"`

	// ReadTimeout bounds how long an idle or partially received request may
	// hold a connection. Zero disables the deadline.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// ShutdownTimeout is the maximum duration to wait for in-flight
	// connections on shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ChunkSize is the buffer size used when streaming static files.
	// Default: 1048576 (1MB)
	ChunkSize int `yaml:"chunk_size"`
}

// LimitsConfig contains per-client admission settings.
type LimitsConfig struct {
	// Threshold is the number of requests allowed inside Window before the
	// client is banned.
	// Default: 100
	Threshold int `yaml:"threshold"`

	// Window is the trailing window requests are counted in.
	// Default: 10s
	Window time.Duration `yaml:"window"`

	// BanDuration is how long a client stays banned once Threshold is exceeded.
	// Default: 60s
	BanDuration time.Duration `yaml:"ban_duration"`

	// MaxClients bounds the number of tracked clients. When the table is full
	// the least recently seen client is evicted.
	// Default: 100000
	MaxClients int `yaml:"max_clients"`

	// CleanupInterval is how often dormant clients are dropped.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Shards is the number of independently locked client tables.
	// Default: 16
	Shards int `yaml:"shards"`

	// Storage configures ban persistence.
	Storage BanStorageConfig `yaml:"storage"`
}

// BanStorageConfig contains ban persistence settings.
type BanStorageConfig struct {
	// Backend selects where active bans are persisted.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLitePath is the database file used by the sqlite backend.
	// Default: "data/bans.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BusyTimeout is the sqlite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SandboxConfig contains configuration for script worker processes.
type SandboxConfig struct {
	// MaxJobs is the maximum number of concurrently running workers.
	// Requests beyond it are answered with 429.
	// Default: 32
	MaxJobs int `yaml:"max_jobs"`

	// Lifetime is the maximum run time of a worker.
	// Default: 5s
	Lifetime time.Duration `yaml:"lifetime"`

	// Grace is added to Lifetime before the worker is killed.
	// Default: 500ms
	Grace time.Duration `yaml:"grace"`

	// MemoryLimitMB bounds the heap of each worker. A script that exceeds it
	// is aborted and answered with 500.
	// Default: 64
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// ErrorDisplay includes script error detail in 500 responses.
	// Default: false
	ErrorDisplay bool `yaml:"error_display"`

	// WorkerBinary is the executable started for each job. Empty means the
	// running binary.
	WorkerBinary string `yaml:"worker_binary"`

	// ScriptExtension marks files executed in the sandbox.
	// Default: ".lua"
	ScriptExtension string `yaml:"script_extension"`
}

// FilterConfig contains rule discovery settings.
type FilterConfig struct {
	// FileName is the per-directory rule file name.
	// Default: ".passfilter"
	FileName string `yaml:"file_name"`

	// DefaultDocuments is the ordered list of documents tried for a
	// directory.
	// Default: ["index.lua", "index.html"]
	DefaultDocuments []string `yaml:"default_documents"`

	// Cache keeps parsed rule files in memory and invalidates them on file
	// system events. When false every request re-reads its rule files.
	// Default: false
	Cache bool `yaml:"cache"`

	// Debounce is the quiet period applied to file system events.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`
}

// JournalConfig contains access decision journal settings.
type JournalConfig struct {
	// Enabled turns on the journal.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the store.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLitePath is the database file used by the sqlite backend.
	// Default: "data/journal.db"
	SQLitePath string `yaml:"sqlite_path"`

	// Buffer is the size of the asynchronous write queue.
	// Default: 1024
	Buffer int `yaml:"buffer"`

	// WriteTimeout bounds a single store write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays is how long entries are kept. Zero keeps them forever.
	// Default: 7
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for retention pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// SiteSyncConfig contains settings for keeping the serving root in sync
// with a git repository.
type SiteSyncConfig struct {
	// Enabled turns on synchronisation.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// URL is the repository URL.
	URL string `yaml:"url"`

	// Branch is the branch checked out into the serving root.
	// Default: "main"
	Branch string `yaml:"branch"`

	// AuthType selects the authentication method.
	// Options: "none", "token", "ssh"
	// Default: "none"
	AuthType string `yaml:"auth_type"`

	// Token is the access token for token authentication.
	Token string `yaml:"token"`

	// SSHKeyPath is the private key for ssh authentication.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// Interval is the time between pulls.
	// Default: 5m
	Interval time.Duration `yaml:"interval"`

	// CloneDepth limits history on the initial clone. Zero is a full clone.
	// Default: 1
	CloneDepth int `yaml:"clone_depth"`

	// Timeout bounds a single clone or pull.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// AdminAddress is the address of the HTTP server exposing metrics and
	// health endpoints. Empty disables it.
	// Default: "127.0.0.1:9090"
	AdminAddress string `yaml:"admin_address"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPatterns contains additional redaction patterns applied to
	// logged values.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "callisto"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "frontend"
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets defines histogram buckets for request duration (seconds).
	// Default: [0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "callisto"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
