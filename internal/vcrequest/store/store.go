// Package store persists request records keyed by correlation id. All
// backends share the same contract: unconditional last-write-wins Put,
// Get that never returns an expired record, and TTL enforcement capped by
// a hard ceiling so abandoned requests are reclaimed.
package store

import (
	"context"
	"time"

	"vcgateway/internal/vcrequest"
	"vcgateway/pkg/platform/sentinel"
)

// ErrNotFound is returned when no live record exists for a correlation id.
// Services should translate this to a domain error at their boundary;
// pollers treat it as "not ready yet".
var ErrNotFound = sentinel.ErrNotFound

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound (wrapped) when the record does not exist or expired
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	// Put inserts or replaces the record at id. Replacement is
	// unconditional; transition legality is the caller's policy.
	Put(ctx context.Context, id string, record vcrequest.Record) error
	// Get returns the current live record for id.
	Get(ctx context.Context, id string) (vcrequest.Record, error)
}

// TTLFor computes how long a record may live from now: the time until its
// upstream expiry, capped by ceiling. Records without an upstream expiry
// get the full ceiling. Never returns less than a second so a Put directly
// followed by a Get cannot miss.
func TTLFor(record vcrequest.Record, now time.Time, ceiling time.Duration) time.Duration {
	ttl := ceiling
	if exp := record.ExpiresAt(); !exp.IsZero() {
		if until := exp.Sub(now); until < ttl {
			ttl = until
		}
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
