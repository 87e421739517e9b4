package storage

import (
	"fmt"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/journal"
)

// New creates the backend selected by cfg.
func New(cfg config.JournalConfig) (journal.Storage, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		sc := DefaultSQLiteConfig()
		if cfg.SQLitePath != "" {
			sc.Path = cfg.SQLitePath
		}
		return NewSQLiteStorage(sc)
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
	}
}
