package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/config"
)

// backends returns a fresh instance of every backend for shared behaviour tests.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:             filepath.Join(t.TempDir(), "bans.db"),
		CheckpointInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create SQLite backend: %v", err)
	}

	memory := NewMemoryBackend()

	t.Cleanup(func() {
		sqlite.Close()
		memory.Close()
	})

	return map[string]Backend{"memory": memory, "sqlite": sqlite}
}

func TestBackend_SaveLoadDelete(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			until := time.Now().Add(time.Minute).Truncate(time.Millisecond)

			if err := backend.Save(ctx, &Ban{ClientID: "203.0.113.9", Until: until, Count: 101}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			ban, err := backend.Load(ctx, "203.0.113.9")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if ban == nil {
				t.Fatal("expected ban, got nil")
			}
			if !ban.Until.Equal(until) {
				t.Errorf("Until = %v, want %v", ban.Until, until)
			}
			if ban.Count != 101 {
				t.Errorf("Count = %d, want 101", ban.Count)
			}
			if !ban.Active(time.Now()) {
				t.Error("expected ban to be active")
			}

			if err := backend.Delete(ctx, "203.0.113.9"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			ban, err = backend.Load(ctx, "203.0.113.9")
			if err != nil || ban != nil {
				t.Errorf("expected no ban after delete, got %v, %v", ban, err)
			}
		})
	}
}

func TestBackend_SaveReplaces(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := time.Now().Add(time.Minute).Truncate(time.Millisecond)
			second := first.Add(time.Minute)

			backend.Save(ctx, &Ban{ClientID: "c", Until: first, Count: 1})
			backend.Save(ctx, &Ban{ClientID: "c", Until: second, Count: 2})

			bans, err := backend.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(bans) != 1 {
				t.Fatalf("expected 1 ban, got %d", len(bans))
			}
			if !bans[0].Until.Equal(second) || bans[0].Count != 2 {
				t.Errorf("expected replaced ban, got %+v", bans[0])
			}
		})
	}
}

func TestBackend_ListOrderedByExpiry(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			backend.Save(ctx, &Ban{ClientID: "late", Until: now.Add(3 * time.Minute)})
			backend.Save(ctx, &Ban{ClientID: "early", Until: now.Add(time.Minute)})
			backend.Save(ctx, &Ban{ClientID: "middle", Until: now.Add(2 * time.Minute)})

			bans, err := backend.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}

			want := []string{"early", "middle", "late"}
			if len(bans) != len(want) {
				t.Fatalf("expected %d bans, got %d", len(want), len(bans))
			}
			for i, id := range want {
				if bans[i].ClientID != id {
					t.Errorf("bans[%d] = %q, want %q", i, bans[i].ClientID, id)
				}
			}
		})
	}
}

func TestBackend_Cleanup(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			backend.Save(ctx, &Ban{ClientID: "expired", Until: now.Add(-time.Second)})
			backend.Save(ctx, &Ban{ClientID: "active", Until: now.Add(time.Minute)})

			deleted, err := backend.Cleanup(ctx, now)
			if err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if deleted != 1 {
				t.Errorf("expected 1 deleted, got %d", deleted)
			}

			if ban, _ := backend.Load(ctx, "active"); ban == nil {
				t.Error("active ban should survive cleanup")
			}
			if ban, _ := backend.Load(ctx, "expired"); ban != nil {
				t.Error("expired ban should be removed")
			}
		})
	}
}

func TestBackend_Validation(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := backend.Save(ctx, nil); err == nil {
				t.Error("expected error for nil ban")
			}
			if err := backend.Save(ctx, &Ban{}); err == nil {
				t.Error("expected error for empty client id")
			}
			if _, err := backend.Load(ctx, ""); err == nil {
				t.Error("expected error for empty client id on load")
			}
			if err := backend.Delete(ctx, ""); err == nil {
				t.Error("expected error for empty client id on delete")
			}
		})
	}
}

func TestBackend_Concurrent(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			until := time.Now().Add(time.Minute)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("client-%d", i)
					if err := backend.Save(ctx, &Ban{ClientID: id, Until: until}); err != nil {
						t.Errorf("Save(%s) failed: %v", id, err)
					}
					if _, err := backend.Load(ctx, id); err != nil {
						t.Errorf("Load(%s) failed: %v", id, err)
					}
				}(i)
			}
			wg.Wait()

			bans, _ := backend.List(ctx)
			if len(bans) != 20 {
				t.Errorf("expected 20 bans, got %d", len(bans))
			}
		})
	}
}

func TestMemoryBackend_MaxEntries(t *testing.T) {
	backend := NewMemoryBackendWithConfig(MemoryBackendConfig{MaxEntries: 2})
	defer backend.Close()

	ctx := context.Background()
	now := time.Now()

	backend.Save(ctx, &Ban{ClientID: "soonest", Until: now.Add(time.Second)})
	backend.Save(ctx, &Ban{ClientID: "later", Until: now.Add(time.Hour)})
	backend.Save(ctx, &Ban{ClientID: "new", Until: now.Add(time.Minute)})

	if backend.Size() != 2 {
		t.Fatalf("expected size 2, got %d", backend.Size())
	}
	if ban, _ := backend.Load(ctx, "soonest"); ban != nil {
		t.Error("expected the soonest expiring ban to be evicted")
	}
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "bans.db")
	ctx := context.Background()
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	first, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := first.Save(ctx, &Ban{ClientID: "persisted", Until: until}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	second, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	ban, err := second.Load(ctx, "persisted")
	if err != nil || ban == nil {
		t.Fatalf("expected persisted ban, got %v, %v", ban, err)
	}
	if !ban.Until.Equal(until) {
		t.Errorf("Until = %v, want %v", ban.Until, until)
	}
}

func TestNew(t *testing.T) {
	mem, err := New(config.BanStorageConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("New(memory) error = %v", err)
	}
	mem.Close()

	sq, err := New(config.BanStorageConfig{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "b.db")})
	if err != nil {
		t.Fatalf("New(sqlite) error = %v", err)
	}
	sq.Close()

	if _, err := New(config.BanStorageConfig{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
