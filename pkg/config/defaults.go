package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultRoot            = "./www"
	DefaultListenAddress   = "0.0.0.0:8080"
	DefaultMaxPacketSize   = 1048576 // 1MB
	DefaultReadTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultChunkSize       = 1048576 // 1MB

	// Limits defaults
	DefaultThreshold          = 100
	DefaultWindow             = 10 * time.Second
	DefaultBanDuration        = 60 * time.Second
	DefaultMaxClients         = 100000
	DefaultCleanupInterval    = time.Minute
	DefaultShards             = 16
	DefaultBanStorageBackend  = "memory"
	DefaultBanSQLitePath      = "data/bans.db"
	DefaultBanSQLiteBusyLimit = 5 * time.Second

	// Sandbox defaults
	DefaultMaxJobs         = 32
	DefaultLifetime        = 5 * time.Second
	DefaultGrace           = 500 * time.Millisecond
	DefaultMemoryLimitMB   = 64
	DefaultScriptExtension = ".lua"

	// Filter defaults
	DefaultFilterFileName = ".passfilter"
	DefaultFilterDebounce = 100 * time.Millisecond

	// Journal defaults
	DefaultJournalBackend       = "memory"
	DefaultJournalSQLitePath    = "data/journal.db"
	DefaultJournalBuffer        = 1024
	DefaultJournalWriteTimeout  = 5 * time.Second
	DefaultJournalRetentionDays = 7
	DefaultJournalPruneSchedule = "0 3 * * *"

	// Site sync defaults
	DefaultSiteSyncBranch     = "main"
	DefaultSiteSyncAuthType   = "none"
	DefaultSiteSyncInterval   = 5 * time.Minute
	DefaultSiteSyncCloneDepth = 1
	DefaultSiteSyncTimeout    = 60 * time.Second

	// Telemetry defaults
	DefaultAdminAddress        = "127.0.0.1:9090"
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultPrometheusPath      = "/metrics"
	DefaultMetricsNamespace    = "callisto"
	DefaultMetricsSubsystem    = "frontend"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSamplingRate = 1.0
	DefaultTracingServiceName  = "callisto"
	DefaultTracingTimeout      = 10 * time.Second
	DefaultLivenessPath        = "/health"
	DefaultReadinessPath       = "/ready"
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// DefaultDocuments returns the ordered default document names tried for a
// directory request.
func DefaultDocuments() []string {
	return []string{"index.lua", "index.html"}
}

// DefaultDurationBuckets returns the default request duration histogram buckets.
func DefaultDurationBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
// Explicitly configured values are left untouched.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimitsDefaults(&cfg.Limits)
	applySandboxDefaults(&cfg.Sandbox)
	applyFilterDefaults(&cfg.Filter)
	applyJournalDefaults(&cfg.Journal)
	applySiteSyncDefaults(&cfg.SiteSync)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = DefaultMaxPacketSize
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BanDuration == 0 {
		cfg.BanDuration = DefaultBanDuration
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Shards == 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultBanStorageBackend
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = DefaultBanSQLitePath
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultBanSQLiteBusyLimit
	}
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.MaxJobs == 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.MemoryLimitMB == 0 {
		cfg.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if cfg.ScriptExtension == "" {
		cfg.ScriptExtension = DefaultScriptExtension
	}
}

func applyFilterDefaults(cfg *FilterConfig) {
	if cfg.FileName == "" {
		cfg.FileName = DefaultFilterFileName
	}
	if len(cfg.DefaultDocuments) == 0 {
		cfg.DefaultDocuments = DefaultDocuments()
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultFilterDebounce
	}
}

func applyJournalDefaults(cfg *JournalConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultJournalBackend
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = DefaultJournalSQLitePath
	}
	if cfg.Buffer == 0 {
		cfg.Buffer = DefaultJournalBuffer
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultJournalWriteTimeout
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultJournalRetentionDays
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultJournalPruneSchedule
	}
}

func applySiteSyncDefaults(cfg *SiteSyncConfig) {
	if cfg.Branch == "" {
		cfg.Branch = DefaultSiteSyncBranch
	}
	if cfg.AuthType == "" {
		cfg.AuthType = DefaultSiteSyncAuthType
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSiteSyncInterval
	}
	if cfg.CloneDepth == 0 {
		cfg.CloneDepth = DefaultSiteSyncCloneDepth
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSiteSyncTimeout
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.AdminAddress == "" {
		cfg.AdminAddress = DefaultAdminAddress
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}

	// Metrics
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Metrics.DurationBuckets) == 0 {
		cfg.Metrics.DurationBuckets = DefaultDurationBuckets()
	}

	// Tracing
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}

	// Health
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
