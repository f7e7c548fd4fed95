package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vcgateway/internal/vcrequest"
	"vcgateway/pkg/platform/sentinel"
)

// InMemoryStore tracks request records in a mutex-guarded map. This is the
// default backend and is enough for a single replica. Use the Redis or
// Postgres backend when requests must survive restarts or be shared across
// replicas.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryEntry
	ceiling time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	record    vcrequest.Record
	expiresAt time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithClock injects the time source, for tests that advance time.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

// NewInMemoryStore constructs an empty in-memory store. Records live at
// most ceiling, or until their upstream expiry if that comes first.
func NewInMemoryStore(ceiling time.Duration, opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[string]memoryEntry),
		ceiling: ceiling,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) Put(_ context.Context, id string, record vcrequest.Record) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = memoryEntry{
		record:    record,
		expiresAt: now.Add(TTLFor(record, now, s.ceiling)),
	}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (vcrequest.Record, error) {
	now := s.now()
	s.mu.RLock()
	entry, ok := s.records[id]
	s.mu.RUnlock()
	if !ok || !entry.expiresAt.After(now) {
		return vcrequest.Record{}, fmt.Errorf("request record %q: %w", id, sentinel.ErrNotFound)
	}
	return entry.record, nil
}

// DeleteExpired removes all records whose TTL elapsed as of now. The time
// parameter is injected for testability. A janitor goroutine calls this
// periodically; Get also checks lazily, so the sweep only bounds memory.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, entry := range s.records {
		if !entry.expiresAt.After(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted
}

// Len reports the number of entries, live or not. Used by the janitor log.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
