package retention

import (
	"context"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/journal/storage"
)

func TestPruner_Prune(t *testing.T) {
	now := time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStorage()
	for i, age := range []int{0, 3, 6, 8, 30} {
		store.Store(context.Background(), &journal.Entry{
			ID:   string(rune('a' + i)),
			Time: now.AddDate(0, 0, -age),
		})
	}

	p := NewPruner(store, &Config{RetentionDays: 7})
	p.now = func() time.Time { return now }

	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 || store.Size() != 3 {
		t.Errorf("deleted %d, left %d, want 2 and 3", deleted, store.Size())
	}
}

func TestPruner_KeepForever(t *testing.T) {
	store := storage.NewMemoryStorage()
	store.Store(context.Background(), &journal.Entry{ID: "old", Time: time.Unix(0, 0)})

	deleted, err := NewPruner(store, &Config{RetentionDays: 0}).Prune(context.Background())
	if err != nil || deleted != 0 || store.Size() != 1 {
		t.Errorf("Prune() = %d, %v; size %d", deleted, err, store.Size())
	}
}

func TestPruner_Start(t *testing.T) {
	tests := []struct {
		name        string
		schedule    string
		days        int
		wantRunning bool
		wantError   bool
	}{
		{"daily", "0 3 * * *", 7, true, false},
		{"hourly", "0 * * * *", 7, true, false},
		{"empty schedule", "", 7, false, false},
		{"keep forever", "0 3 * * *", 0, false, false},
		{"invalid", "invalid cron", 7, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPruner(storage.NewMemoryStorage(), &Config{PruneSchedule: tt.schedule, RetentionDays: tt.days})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := p.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if p.Running() != tt.wantRunning {
				t.Errorf("Running() = %v, want %v", p.Running(), tt.wantRunning)
			}

			next := p.NextPruning()
			if tt.wantRunning && (next == nil || !next.After(time.Now())) {
				t.Errorf("NextPruning() = %v, want a future time", next)
			}
			if !tt.wantRunning && next != nil {
				t.Errorf("NextPruning() = %v, want nil", next)
			}

			p.Stop()
			if p.Running() {
				t.Error("still running after Stop")
			}
		})
	}
}

func TestPruner_StopsWithContext(t *testing.T) {
	p := NewPruner(storage.NewMemoryStorage(), &Config{PruneSchedule: "0 3 * * *", RetentionDays: 1})

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for p.Running() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not stop after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
