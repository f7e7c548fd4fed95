package worker

import (
	"context"
	"log/slog"

	"vcgateway/pkg/platform/audit"
)

// Worker consumes audit events from the publisher inbox and persists them.
// Sink failures are logged, not propagated: the stream keeps draining.
type Worker struct {
	store  audit.Store
	sinks  []audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

// New builds a worker. store is required; sinks (e.g. Kafka) are optional.
func New(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger, sinks ...audit.Store) *Worker {
	return &Worker{store: store, sinks: sinks, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.Error("audit store append failed", "error", err)
			}
			for _, sink := range w.sinks {
				if err := sink.Append(ctx, event); err != nil {
					w.logger.Error("audit sink append failed", "error", err)
				}
			}
		}
	}
}
