package audit

import (
	"context"
	"log/slog"
	"time"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher accepts events without blocking the caller. Events are dropped
// (and counted in the log) when the buffer is full; request handling must
// never wait on auditing.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewPublisher creates a publisher with the given buffer size.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	return &Publisher{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

// Publish enqueues an event, stamping the time when unset.
func (p *Publisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", string(event.Action),
			"correlation_id", event.CorrelationID,
		)
	}
}

// Inbox exposes the channel for the draining worker.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}
