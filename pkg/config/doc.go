// Package config provides configuration management for Callisto.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// from the environment and validated before use.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("callisto.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("callisto.yaml")
//	cfg, err := config.Default() // no file
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention CALLISTO_SECTION_FIELD:
//
//   - CALLISTO_SERVER_ROOT overrides server.root
//   - CALLISTO_LIMITS_THRESHOLD overrides limits.threshold
//   - CALLISTO_SANDBOX_ERROR_DISPLAY overrides sandbox.error_display
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Example Configuration
//
//	server:
//	  root: "./www"
//	  listen_address: "0.0.0.0:8080"
//	  max_packet_size: 1048576
//
//	limits:
//	  threshold: 100
//	  window: "10s"
//	  ban_duration: "60s"
//
//	sandbox:
//	  max_jobs: 32
//	  lifetime: "5s"
//	  memory_limit_mb: 64
//	  error_display: false
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
