package sitesync

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"
)

// Invalidator drops cached rule files.
type Invalidator interface {
	InvalidateAll()
}

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	// Interval is the time between pulls.
	Interval time.Duration

	// RuleFile is the rule file name. A pull touching a file with this
	// name invalidates the rule cache.
	RuleFile string
}

// Syncer pulls the repository on an interval.
type Syncer struct {
	repo        *Repository
	config      SyncerConfig
	invalidator Invalidator
	logger      *slog.Logger

	mu            sync.Mutex
	lastCommitSHA string
	syncs         int64
	invalidations int64
}

// NewSyncer creates a syncer. invalidator may be nil when rule files are
// not cached.
func NewSyncer(repo *Repository, cfg SyncerConfig, invalidator Invalidator, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		repo:        repo,
		config:      cfg,
		invalidator: invalidator,
		logger:      logger.With("component", "sitesync"),
	}
}

// Run pulls every Interval until ctx is done. Pull failures are logged and
// retried on the next tick.
func (s *Syncer) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", s.config.Interval)
	}

	if head, err := s.repo.Head(); err == nil {
		s.mu.Lock()
		s.lastCommitSHA = head.SHA
		s.mu.Unlock()
		s.logger.Info("site sync started", "interval", s.config.Interval, "commit", short(head.SHA))
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("site sync stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("site sync failed", "error", err)
			}
		}
	}
}

// Sync pulls once and invalidates the rule cache when a rule file changed.
func (s *Syncer) Sync(ctx context.Context) (*PullResult, error) {
	result, err := s.repo.Pull(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.syncs++
	if !result.HadChanges {
		s.mu.Unlock()
		return result, nil
	}
	s.lastCommitSHA = result.ToSHA
	s.mu.Unlock()

	s.logger.Info("serving root updated",
		"from_sha", short(result.FromSHA),
		"to_sha", short(result.ToSHA),
		"changed_files", len(result.ChangedFiles))

	if s.invalidator != nil && s.touchesRules(result.ChangedFiles) {
		s.invalidator.InvalidateAll()
		s.mu.Lock()
		s.invalidations++
		s.mu.Unlock()
		s.logger.Info("rule cache invalidated after sync")
	}
	return result, nil
}

func (s *Syncer) touchesRules(files []string) bool {
	if s.config.RuleFile == "" {
		return len(files) > 0
	}
	for _, f := range files {
		if path.Base(f) == s.config.RuleFile {
			return true
		}
	}
	return false
}

// LastCommitSHA returns the commit the root was last synced to.
func (s *Syncer) LastCommitSHA() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommitSHA
}

// Counts returns the number of completed syncs and cache invalidations.
func (s *Syncer) Counts() (syncs, invalidations int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs, s.invalidations
}
