package orders

import (
	"context"
	"errors"
	"testing"

	"labcart/internal/catalog"
)

type stubCheckout struct {
	session CheckoutSession
	err     error
	calls   int
}

func (s *stubCheckout) CreateCheckoutSession(ctx context.Context, o Order) (CheckoutSession, error) {
	s.calls++
	if s.err != nil {
		return CheckoutSession{}, s.err
	}
	return s.session, nil
}

func testCatalog() *catalog.StaticCatalog {
	return catalog.NewStaticCatalog(map[string]int64{
		"cbc-panel":   4500,
		"lipid-panel": 5400,
	})
}

func newTestService(store Store, checkout CheckoutClient) *Service {
	machine := NewMachine(store, nil, nil)
	svc := NewService(store, testCatalog(), checkout, machine, nil)
	svc.newID = func() string { return "o-test" }
	return svc
}

func TestService_CreateOrder(t *testing.T) {
	store := NewInMemoryStore()
	checkout := &stubCheckout{session: CheckoutSession{SessionID: "cs_1", RedirectURL: "https://pay.example/cs_1"}}
	svc := newTestService(store, checkout)

	order, redirect, err := svc.CreateOrder(context.Background(), "patient@example.com", []ItemRequest{
		{ProductID: "cbc-panel", Quantity: 1},
		{ProductID: "lipid-panel", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.State != StatePending {
		t.Fatalf("state = %s, want PENDING", order.State)
	}
	if order.AmountDue != 9900 {
		t.Fatalf("amount due = %d, want 9900", order.AmountDue)
	}
	if order.ExternalPaymentRef != "cs_1" {
		t.Fatalf("payment ref = %q, want cs_1", order.ExternalPaymentRef)
	}
	if redirect != "https://pay.example/cs_1" {
		t.Fatalf("redirect = %q", redirect)
	}
	if checkout.calls != 1 {
		t.Fatalf("checkout calls = %d, want 1", checkout.calls)
	}

	stored, err := store.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ExternalPaymentRef != "cs_1" {
		t.Fatalf("stored payment ref = %q", stored.ExternalPaymentRef)
	}
}

func TestService_CreateOrder_Validation(t *testing.T) {
	cases := []struct {
		name  string
		email string
		items []ItemRequest
	}{
		{"no items", "patient@example.com", nil},
		{"bad email", "not-an-email", []ItemRequest{{ProductID: "cbc-panel", Quantity: 1}}},
		{"unknown product", "patient@example.com", []ItemRequest{{ProductID: "mystery", Quantity: 1}}},
		{"zero quantity", "patient@example.com", []ItemRequest{{ProductID: "cbc-panel", Quantity: 0}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(NewInMemoryStore(), &stubCheckout{})
			_, _, err := svc.CreateOrder(context.Background(), tc.email, tc.items)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestService_CreateOrder_ZeroTotal(t *testing.T) {
	store := NewInMemoryStore()
	machine := NewMachine(store, nil, nil)
	cat := catalog.NewStaticCatalog(map[string]int64{"free-sample": 0})
	svc := NewService(store, cat, &stubCheckout{}, machine, nil)

	_, _, err := svc.CreateOrder(context.Background(), "patient@example.com", []ItemRequest{
		{ProductID: "free-sample", Quantity: 3},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestService_CreateOrder_GatewayFailureKeepsOrder(t *testing.T) {
	store := NewInMemoryStore()
	gatewayErr := errors.New("gateway unavailable")
	svc := newTestService(store, &stubCheckout{err: gatewayErr})

	order, _, err := svc.CreateOrder(context.Background(), "patient@example.com", []ItemRequest{
		{ProductID: "cbc-panel", Quantity: 1},
	})
	if !errors.Is(err, gatewayErr) {
		t.Fatalf("err = %v, want gateway error surfaced", err)
	}

	// The order survives so the storefront can retry checkout creation.
	stored, getErr := store.Get(context.Background(), order.ID)
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if stored.State != StatePending || stored.ExternalPaymentRef != "" {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
}

func TestService_AdminTransitions(t *testing.T) {
	store := NewInMemoryStore()
	svc := newTestService(store, nil)

	order, _, err := svc.CreateOrder(context.Background(), "patient@example.com", []ItemRequest{
		{ProductID: "cbc-panel", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Dispatch(context.Background(), order.ID, "admin"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("dispatch on pending: err = %v, want ErrIllegalTransition", err)
	}

	cancelled, err := svc.Cancel(context.Background(), order.ID, "reception")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != StateCancelled {
		t.Fatalf("state = %s, want CANCELLED", cancelled.State)
	}

	if _, err := svc.Dispatch(context.Background(), "missing", "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
