package memory

import (
	"context"
	"sync"

	"vcgateway/pkg/platform/audit"
)

// Store keeps a bounded in-memory ring of recent audit events. Useful for
// single-replica deployments and for tests; production deployments add the
// Kafka sink for durable audit.
type Store struct {
	mu     sync.Mutex
	events []audit.Event
	limit  int
}

// New creates a memory store retaining at most limit events.
func New(limit int) *Store {
	return &Store{limit: limit}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (s *Store) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event{}, s.events...)
}
