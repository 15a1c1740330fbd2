package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"labcart/internal/orders"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func orderColumns() []string {
	return []string{"id", "state", "customer_email", "line_items", "amount_due",
		"external_payment_ref", "external_charge_ref", "dispatched_at", "dispatched_by",
		"internal_notes", "created_at", "updated_at"}
}

func TestPostgresOrderStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestPostgresOrderStore_WithSchemaHelperError(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnError(errors.New("boom"))
	mock.ExpectClose()

	store, err := NewPostgresOrderStoreWithSchema(context.Background(), db)
	if err == nil {
		t.Fatalf("expected error")
	}
	if store != nil {
		t.Fatalf("expected nil store on error")
	}
}

func TestPostgresOrderStore_Insert(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	o := orders.Order{
		ID:            "ord-1",
		State:         orders.StatePending,
		CustomerEmail: "pat@example.com",
		AmountDue:     4300,
		CreatedAt:     time.Now(),
	}
	if err := store.Insert(context.Background(), o); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestPostgresOrderStore_Insert_DuplicateIDConflicts(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	o := orders.Order{ID: "ord-1", State: orders.StatePending, CustomerEmail: "pat@example.com", AmountDue: 100}
	if err := store.Insert(context.Background(), o); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestPostgresOrderStore_Get_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresOrderStore_Transition_Wins(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Now()
	chargeRef := "ch_1"
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow("ord-1", "PAID", "pat@example.com", []byte(`[{"product_id":"panel-basic","quantity":1,"unit_price":4300}]`),
				int64(4300), "cs_1", chargeRef, nil, nil, "", now, now))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	got, err := store.Transition(context.Background(), "ord-1", orders.StatePending, orders.StatePaid,
		orders.TransitionPatch{ExternalChargeRef: &chargeRef})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.State != orders.StatePaid || got.ExternalChargeRef != "ch_1" {
		t.Fatalf("got state=%s chargeRef=%q, want PAID/ch_1", got.State, got.ExternalChargeRef)
	}
	if len(got.LineItems) != 1 || got.LineItems[0].ProductID != "panel-basic" {
		t.Fatalf("line items = %+v", got.LineItems)
	}
}

func TestPostgresOrderStore_Transition_StaleSnapshotConflicts(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Now()
	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(orderColumns()).
			AddRow("ord-1", "PAID", "pat@example.com", []byte("[]"), int64(4300), "cs_1", "ch_1", nil, nil, "", now, now))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	_, err := store.Transition(context.Background(), "ord-1", orders.StatePending, orders.StateCancelled, orders.TransitionPatch{})
	if !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestPostgresOrderStore_Transition_MissingOrder(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	_, err := store.Transition(context.Background(), "missing", orders.StatePending, orders.StatePaid, orders.TransitionPatch{})
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresOrderStore_SetExternalPaymentRef_WriteOnce(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-1", "cs_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	if err := store.SetExternalPaymentRef(context.Background(), "ord-1", "cs_1"); err != nil {
		t.Fatalf("SetExternalPaymentRef: %v", err)
	}
}

func TestPostgresOrderStore_SetExternalPaymentRef_DifferentRefConflicts(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders").
		WithArgs("ord-1", "cs_2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT external_payment_ref FROM orders").
		WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows([]string{"external_payment_ref"}).AddRow("cs_1"))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	if err := store.SetExternalPaymentRef(context.Background(), "ord-1", "cs_2"); !errors.Is(err, orders.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestPostgresOrderStore_UpdateInternalNotes_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders SET internal_notes").
		WithArgs("missing", "call patient").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewPostgresOrderStore(db)
	if err := store.UpdateInternalNotes(context.Background(), "missing", "call patient"); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
