package ordersdb

import (
	"context"
	"database/sql"
	"time"

	"labcart/internal/webhook"
)

// PostgresLedger persists the webhook dedup ledger in Postgres. A row is
// written only after the corresponding order mutation has committed; the
// primary key on event_id makes redelivery a no-op insert.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger constructs a webhook ledger backed by Postgres.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// NewPostgresLedgerWithSchema initializes the schema then returns the ledger.
func NewPostgresLedgerWithSchema(ctx context.Context, db *sql.DB) (*PostgresLedger, error) {
	ledger := NewPostgresLedger(db)
	if err := ledger.InitSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// InitSchema creates the webhook_events table if it does not exist.
func (l *PostgresLedger) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Seen reports whether the event id already has a ledger row.
func (l *PostgresLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Record inserts the ledger row for a processed event. A concurrent duplicate
// insert loses silently; the first row stands.
func (l *PostgresLedger) Record(ctx context.Context, rec webhook.EventRecord) error {
	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, order_id, outcome, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.OrderID, string(rec.Outcome), receivedAt,
	)
	return err
}
