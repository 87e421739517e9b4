package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mercator-hq/callisto/pkg/journal"
)

// MemoryStorage keeps entries in a map. Entries are lost on restart.
type MemoryStorage struct {
	entries map[string]*journal.Entry
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]*journal.Entry),
	}
}

// Store persists an entry. An entry with the same ID is replaced.
func (s *MemoryStorage) Store(ctx context.Context, entry *journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	s.entries[entry.ID] = &entryCopy
	return nil
}

// Query retrieves entries matching the query, ordered by time.
func (s *MemoryStorage) Query(ctx context.Context, query *journal.Query) ([]*journal.Entry, error) {
	s.mu.RLock()
	results := make([]*journal.Entry, 0)
	for _, entry := range s.entries {
		if matches(entry, query) {
			entryCopy := *entry
			results = append(results, &entryCopy)
		}
	}
	s.mu.RUnlock()

	asc := query.SortOrder == "asc"
	sort.Slice(results, func(i, j int) bool {
		if asc {
			return results[i].Time.Before(results[j].Time)
		}
		return results[i].Time.After(results[j].Time)
	})

	start := query.Offset
	if start > len(results) {
		return []*journal.Entry{}, nil
	}
	results = results[start:]
	if query.Limit > 0 && query.Limit < len(results) {
		results = results[:query.Limit]
	}
	return results, nil
}

// Count returns the number of entries matching the query.
func (s *MemoryStorage) Count(ctx context.Context, query *journal.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, entry := range s.entries {
		if matches(entry, query) {
			count++
		}
	}
	return count, nil
}

// Delete removes entries matching the query.
func (s *MemoryStorage) Delete(ctx context.Context, query *journal.Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, entry := range s.entries {
		if matches(entry, query) {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close drops all entries.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*journal.Entry)
	return nil
}

// Size returns the number of stored entries.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matches(entry *journal.Entry, query *journal.Query) bool {
	if query.StartTime != nil && entry.Time.Before(*query.StartTime) {
		return false
	}
	if query.EndTime != nil && entry.Time.After(*query.EndTime) {
		return false
	}
	if query.ClientID != "" && entry.ClientID != query.ClientID {
		return false
	}
	if query.PathPrefix != "" && !strings.HasPrefix(entry.Path, query.PathPrefix) {
		return false
	}
	if query.RuleAction != "" && entry.RuleAction != query.RuleAction {
		return false
	}
	if query.Kind != "" && entry.Kind != query.Kind {
		return false
	}
	if query.MinStatus != 0 && entry.Status < query.MinStatus {
		return false
	}
	if query.MaxStatus != 0 && entry.Status > query.MaxStatus {
		return false
	}
	return true
}
