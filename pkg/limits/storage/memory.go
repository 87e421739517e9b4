package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
type MemoryBackend struct {
	// bans maps client id to its ban.
	bans map[string]*Ban

	// mu protects access to bans.
	mu sync.RWMutex

	// maxEntries is the maximum number of bans before the soonest expiring
	// one is evicted.
	maxEntries int

	// cleanupInterval is how often expired bans are removed.
	cleanupInterval time.Duration

	// done signals the cleanup goroutine to stop.
	done      chan struct{}
	closeOnce sync.Once
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of bans to store.
	// Default: 100,000
	MaxEntries int

	// CleanupInterval is how often to remove expired bans.
	// Default: 1 minute
	CleanupInterval time.Duration
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	backend := &MemoryBackend{
		bans:            make(map[string]*Ban),
		maxEntries:      cfg.MaxEntries,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	go backend.cleanupLoop()

	return backend
}

// Save persists a ban.
func (m *MemoryBackend) Save(ctx context.Context, ban *Ban) error {
	if ban == nil {
		return fmt.Errorf("ban cannot be nil")
	}
	if ban.ClientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bans[ban.ClientID]; !exists && len(m.bans) >= m.maxEntries {
		m.evictSoonestLocked()
	}

	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now()
	}

	stored := *ban
	m.bans[ban.ClientID] = &stored
	return nil
}

// Load retrieves the ban for a client.
func (m *MemoryBackend) Load(ctx context.Context, clientID string) (*Ban, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ban, exists := m.bans[clientID]
	if !exists {
		return nil, nil
	}
	out := *ban
	return &out, nil
}

// Delete removes the ban for a client.
func (m *MemoryBackend) Delete(ctx context.Context, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.bans, clientID)
	return nil
}

// List returns every stored ban ordered by expiry.
func (m *MemoryBackend) List(ctx context.Context) ([]*Ban, error) {
	m.mu.RLock()
	bans := make([]*Ban, 0, len(m.bans))
	for _, ban := range m.bans {
		out := *ban
		bans = append(bans, &out)
	}
	m.mu.RUnlock()

	sort.Slice(bans, func(i, j int) bool { return bans[i].Until.Before(bans[j].Until) })
	return bans, nil
}

// Cleanup removes bans that expired before now.
func (m *MemoryBackend) Cleanup(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, ban := range m.bans {
		if !ban.Active(now) {
			delete(m.bans, id)
			deleted++
		}
	}

	return deleted, nil
}

// Close stops the cleanup goroutine. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Size returns the current number of stored bans.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bans)
}

// evictSoonestLocked evicts the ban closest to expiry.
// Caller must hold write lock.
func (m *MemoryBackend) evictSoonestLocked() {
	var (
		soonestID string
		soonest   time.Time
		found     bool
	)

	for id, ban := range m.bans {
		if !found || ban.Until.Before(soonest) {
			soonestID = id
			soonest = ban.Until
			found = true
		}
	}

	if found {
		delete(m.bans, soonestID)
	}
}

// cleanupLoop runs periodic cleanup of expired bans.
func (m *MemoryBackend) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = m.Cleanup(context.Background(), time.Now())
		case <-m.done:
			return
		}
	}
}
