package ordersdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labcart/internal/orders"
)

// PostgresOrderStore persists orders in Postgres. State changes go through a
// conditional UPDATE so two callers racing on the same order produce exactly
// one winner.
type PostgresOrderStore struct {
	db *sql.DB
}

// NewPostgresOrderStore constructs an orders.Store backed by Postgres.
func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

// NewPostgresOrderStoreWithSchema initializes the schema then returns the store.
func NewPostgresOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresOrderStore, error) {
	store := NewPostgresOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *PostgresOrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			line_items JSONB NOT NULL DEFAULT '[]',
			amount_due BIGINT NOT NULL,
			external_payment_ref TEXT,
			external_charge_ref TEXT,
			dispatched_at TIMESTAMPTZ,
			dispatched_by TEXT,
			internal_notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (s *PostgresOrderStore) Insert(ctx context.Context, o orders.Order) error {
	if o.ID == "" {
		return fmt.Errorf("%w: order id required", orders.ErrValidation)
	}

	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, state, customer_email, line_items, amount_due, internal_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, string(o.State), o.CustomerEmail, items, o.AmountDue, o.InternalNotes, o.CreatedAt,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: order %s already exists", orders.ErrConflict, o.ID)
	}
	return nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, customer_email, line_items, amount_due, external_payment_ref,
		       external_charge_ref, dispatched_at, dispatched_by, internal_notes,
		       created_at, updated_at
		FROM orders
		WHERE id = $1`,
		id,
	)
	return scanOrder(row)
}

// Transition applies the state change only when the stored state still equals
// expected. RowsAffected 0 means either a lost race or a missing order; a
// follow-up read tells the two apart.
func (s *PostgresOrderStore) Transition(ctx context.Context, id string, expected, next orders.State, patch orders.TransitionPatch) (orders.Order, error) {
	var (
		chargeRef    sql.NullString
		dispatchedAt sql.NullTime
		dispatchedBy sql.NullString
	)
	if patch.ExternalChargeRef != nil {
		chargeRef = sql.NullString{String: *patch.ExternalChargeRef, Valid: true}
	}
	if patch.DispatchMeta != nil {
		dispatchedAt = sql.NullTime{Time: patch.DispatchMeta.DispatchedAt, Valid: true}
		dispatchedBy = sql.NullString{String: patch.DispatchMeta.DispatchedBy, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET state = $3,
		    external_charge_ref = COALESCE($4, external_charge_ref),
		    dispatched_at = COALESCE($5, dispatched_at),
		    dispatched_by = COALESCE($6, dispatched_by),
		    updated_at = NOW()
		WHERE id = $1 AND state = $2`,
		id, string(expected), string(next), chargeRef, dispatchedAt, dispatchedBy,
	)
	if err != nil {
		return orders.Order{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return orders.Order{}, err
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return orders.Order{}, getErr
		}
		return orders.Order{}, fmt.Errorf("%w: order %s is %s, expected %s", orders.ErrConflict, id, current.State, expected)
	}

	return s.Get(ctx, id)
}

func (s *PostgresOrderStore) SetExternalPaymentRef(ctx context.Context, id, ref string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET external_payment_ref = $2, updated_at = NOW()
		WHERE id = $1 AND (external_payment_ref IS NULL OR external_payment_ref = $2)`,
		id, ref,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var existing sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT external_payment_ref FROM orders WHERE id = $1`, id)
	switch scanErr := row.Scan(&existing); scanErr {
	case nil:
		return fmt.Errorf("%w: payment ref already set on order %s", orders.ErrConflict, id)
	case sql.ErrNoRows:
		return orders.ErrNotFound
	default:
		return scanErr
	}
}

func (s *PostgresOrderStore) UpdateInternalNotes(ctx context.Context, id, notes string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET internal_notes = $2 WHERE id = $1`, id, notes)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return orders.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (orders.Order, error) {
	var (
		o            orders.Order
		state        string
		lineItems    []byte
		paymentRef   sql.NullString
		chargeRef    sql.NullString
		dispatchedAt sql.NullTime
		dispatchedBy sql.NullString
		createdAt    time.Time
		updatedAt    time.Time
	)
	err := row.Scan(&o.ID, &state, &o.CustomerEmail, &lineItems, &o.AmountDue, &paymentRef,
		&chargeRef, &dispatchedAt, &dispatchedBy, &o.InternalNotes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &o.LineItems); err != nil {
			return orders.Order{}, fmt.Errorf("decode line items for order %s: %w", o.ID, err)
		}
	}

	o.State = orders.State(state)
	o.ExternalPaymentRef = paymentRef.String
	o.ExternalChargeRef = chargeRef.String
	if dispatchedAt.Valid {
		o.DispatchMeta = &orders.DispatchMeta{
			DispatchedAt: dispatchedAt.Time,
			DispatchedBy: dispatchedBy.String,
		}
	}
	o.CreatedAt = createdAt
	o.UpdatedAt = updatedAt
	return o, nil
}
