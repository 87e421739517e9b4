// Package retention deletes journal entries older than the retention period
// on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/callisto/pkg/journal"
)

// Config controls how long entries are kept and when they are pruned.
type Config struct {
	// RetentionDays is how long entries are kept. 0 keeps them forever.
	RetentionDays int

	// PruneSchedule is a standard five field cron expression such as
	// "0 3 * * *". Empty disables scheduled pruning.
	PruneSchedule string
}

// DefaultConfig keeps a week of entries and prunes nightly.
func DefaultConfig() *Config {
	return &Config{RetentionDays: 7, PruneSchedule: "0 3 * * *"}
}

// Pruner enforces the retention period on a journal storage, either on
// demand through Prune or on the configured schedule.
type Pruner struct {
	storage journal.Storage
	config  *Config
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	running bool

	// now is replaced in tests.
	now func() time.Time
}

// NewPruner creates a pruner for storage.
func NewPruner(storage journal.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "journal.retention"),
		now:     time.Now,
	}
}

// Prune deletes entries older than the retention period and returns how
// many were removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
	deleted, err := p.storage.Delete(ctx, &journal.Query{EndTime: &cutoff})
	if err != nil {
		return 0, journal.NewRetentionError(p.config.RetentionDays, err)
	}

	if deleted > 0 {
		p.logger.Info("pruned journal entries",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
			"cutoff", cutoff,
		)
	}
	return deleted, nil
}

// Start schedules Prune. Nothing is scheduled when the schedule is empty
// or entries are kept forever. The schedule ends with ctx or Stop; a
// prune still running when the next tick fires is not overlapped.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.config.PruneSchedule == "" || p.config.RetentionDays <= 0 {
		return nil
	}

	schedule, err := cron.ParseStandard(p.config.PruneSchedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.config.PruneSchedule, err)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	p.entry = c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("scheduled journal pruning failed", "error", err)
		}
	}))
	c.Start()
	p.cron = c
	p.running = true

	p.logger.Info("journal pruning scheduled",
		"schedule", p.config.PruneSchedule,
		"retention_days", p.config.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop ends the schedule and waits for a running prune.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
}

// Running reports whether pruning is scheduled.
func (p *Pruner) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextPruning returns the time of the next scheduled run, nil when none.
func (p *Pruner) NextPruning() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	next := p.cron.Entry(p.entry).Next
	return &next
}
