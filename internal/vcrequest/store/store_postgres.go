package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vcgateway/internal/vcrequest"
	"vcgateway/pkg/platform/sentinel"
)

// PostgresStore persists request records in PostgreSQL. Opt-in backend for
// deployments that want records to survive restarts.
type PostgresStore struct {
	db      *sql.DB
	ceiling time.Duration
}

// NewPostgres constructs a PostgreSQL-backed request record store.
func NewPostgres(db *sql.DB, ceiling time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ceiling: ceiling}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vc_request_status (
			correlation_id TEXT PRIMARY KEY,
			flow           TEXT NOT NULL,
			status         TEXT NOT NULL,
			message        TEXT NOT NULL,
			expiry         BIGINT NOT NULL DEFAULT 0,
			pin            TEXT NOT NULL DEFAULT '',
			payload        TEXT NOT NULL DEFAULT '',
			subject        TEXT NOT NULL DEFAULT '',
			expires_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure vc_request_status schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, id string, record vcrequest.Record) error {
	now := time.Now()
	expiresAt := now.Add(TTLFor(record, now, s.ceiling))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vc_request_status
			(correlation_id, flow, status, message, expiry, pin, payload, subject, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (correlation_id) DO UPDATE SET
			flow = EXCLUDED.flow,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			expiry = EXCLUDED.expiry,
			pin = EXCLUDED.pin,
			payload = EXCLUDED.payload,
			subject = EXCLUDED.subject,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		id, string(record.Flow), string(record.Status), record.Message,
		record.Expiry, record.PIN, record.Payload, record.Subject, expiresAt)
	if err != nil {
		return fmt.Errorf("put request record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (vcrequest.Record, error) {
	var (
		record vcrequest.Record
		flow   string
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT flow, status, message, expiry, pin, payload, subject
		FROM vc_request_status
		WHERE correlation_id = $1 AND expires_at > now()`, id).
		Scan(&flow, &status, &record.Message, &record.Expiry,
			&record.PIN, &record.Payload, &record.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return vcrequest.Record{}, fmt.Errorf("request record %q: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return vcrequest.Record{}, fmt.Errorf("get request record: %w", err)
	}
	record.CorrelationID = id
	record.Flow = vcrequest.Flow(flow)
	record.Status = vcrequest.Status(status)
	return record, nil
}

// DeleteExpired reaps rows whose TTL elapsed. Called periodically from the
// janitor so the table does not grow unbounded under load.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vc_request_status WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired request records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
