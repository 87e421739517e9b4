package storage

import (
	"fmt"

	"mercator-hq/callisto/pkg/config"
)

// New creates the backend selected by cfg.
func New(cfg config.BanStorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
			DBPath:      cfg.SQLitePath,
			BusyTimeout: cfg.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown ban storage backend %q", cfg.Backend)
	}
}
