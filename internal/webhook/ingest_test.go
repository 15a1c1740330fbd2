package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"labcart/internal/gateway"
	"labcart/internal/orders"
)

const testSecret = "whsec_test"

type recordingPublisher struct {
	events []orders.TransitionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev orders.TransitionEvent) error {
	p.events = append(p.events, ev)
	return nil
}

type ingestHarness struct {
	verifier *gateway.Verifier
	ledger   *InMemoryLedger
	store    *orders.InMemoryStore
	pub      *recordingPublisher
	ingest   *Ingest
	outcomes []Outcome
}

func newHarness(t *testing.T) *ingestHarness {
	t.Helper()
	h := &ingestHarness{
		verifier: gateway.NewVerifier(testSecret, 5*time.Minute),
		ledger:   NewInMemoryLedger(),
		store:    orders.NewInMemoryStore(),
		pub:      &recordingPublisher{},
	}
	machine := orders.NewMachine(h.store, h.pub, t.Logf)
	h.ingest = NewIngest(h.verifier, h.ledger, h.store, machine, t.Logf, func(o Outcome) {
		h.outcomes = append(h.outcomes, o)
	})
	return h
}

func (h *ingestHarness) pendingOrder(t *testing.T, id string, amount int64) {
	t.Helper()
	err := h.store.Insert(context.Background(), orders.Order{
		ID:            id,
		State:         orders.StatePending,
		CustomerEmail: "patient@example.com",
		AmountDue:     amount,
	})
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
}

func signedEvent(t *testing.T, v *gateway.Verifier, eventID, eventType, orderID, chargeRef string, amount int64) (body []byte, header string) {
	t.Helper()
	payload := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Now().Unix(),
		"data": map[string]any{
			"order_id":    orderID,
			"charge_ref":  chargeRef,
			"amount_paid": amount,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return body, v.Sign(body, time.Now())
}

func TestIngest_AppliesPaymentCompleted(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)

	outcome, err := h.ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want APPLIED", outcome)
	}

	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePaid || got.ExternalChargeRef != "ch_1" {
		t.Fatalf("order after apply: %+v", got)
	}
	if rec, ok := h.ledger.Outcome("evt_1"); !ok || rec != OutcomeApplied {
		t.Fatalf("ledger outcome = %v %v", rec, ok)
	}
	if len(h.pub.events) != 1 {
		t.Fatalf("published %d transitions, want 1", len(h.pub.events))
	}
}

func TestIngest_DuplicateDeliveryIgnored(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)

	if _, err := h.ingest.Process(context.Background(), body, header); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	outcome, err := h.ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != OutcomeDuplicateIgnored {
		t.Fatalf("outcome = %s, want DUPLICATE_IGNORED", outcome)
	}
	if h.ledger.Len() != 1 {
		t.Fatalf("ledger rows = %d, want 1", h.ledger.Len())
	}
	if len(h.pub.events) != 1 {
		t.Fatalf("order mutated more than once: %d transitions", len(h.pub.events))
	}
}

func TestIngest_StaleEventOnAdvancedOrder(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)

	first, h1 := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)
	if _, err := h.ingest.Process(context.Background(), first, h1); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Same logical payment redelivered under a fresh event id.
	second, h2 := signedEvent(t, h.verifier, "evt_2", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)
	outcome, err := h.ingest.Process(context.Background(), second, h2)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != OutcomeRejectedStale {
		t.Fatalf("outcome = %s, want REJECTED_STALE", outcome)
	}

	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePaid || got.ExternalChargeRef != "ch_1" {
		t.Fatalf("order changed by stale event: %+v", got)
	}
}

func TestIngest_StaleAfterCancel(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)

	o, _ := h.store.Get(context.Background(), "o-1")
	machine := orders.NewMachine(h.store, h.pub, t.Logf)
	if _, err := machine.Apply(context.Background(), o, orders.AdminCancel{Actor: "reception"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)
	outcome, err := h.ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeRejectedStale {
		t.Fatalf("outcome = %s, want REJECTED_STALE", outcome)
	}
	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StateCancelled {
		t.Fatalf("state = %s, want CANCELLED", got.State)
	}
}

func TestIngest_AmountMismatchLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 5000)

	outcome, err := h.ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeRejectedInvalid {
		t.Fatalf("outcome = %s, want REJECTED_INVALID", outcome)
	}

	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePending || got.ExternalChargeRef != "" {
		t.Fatalf("order mutated by mismatched amount: %+v", got)
	}
	if len(h.pub.events) != 0 {
		t.Fatalf("side effects recorded for rejected payment")
	}
}

func TestIngest_UnknownOrderAcknowledged(t *testing.T) {
	h := newHarness(t)
	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-missing", "ch_1", 9900)

	outcome, err := h.ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeRejectedInvalid {
		t.Fatalf("outcome = %s, want REJECTED_INVALID", outcome)
	}
	if rec, ok := h.ledger.Outcome("evt_1"); !ok || rec != OutcomeRejectedInvalid {
		t.Fatalf("ledger outcome = %v %v", rec, ok)
	}
}

func TestIngest_UnhandledEventType(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	body, header := signedEvent(t, h.verifier, "evt_1", "payout.settled", "o-1", "", 0)

	outcome, err := h.ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeRejectedInvalid {
		t.Fatalf("outcome = %s, want REJECTED_INVALID", outcome)
	}
	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePending {
		t.Fatalf("state = %s, want PENDING", got.State)
	}
}

func TestIngest_BadSignatureRejected(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	body, _ := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)

	forger := gateway.NewVerifier("wrong-secret", 5*time.Minute)
	_, err := h.ingest.Process(context.Background(), body, forger.Sign(body, time.Now()))
	if !errors.Is(err, gateway.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}

	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePending {
		t.Fatalf("unverified payload mutated order to %s", got.State)
	}
	if h.ledger.Len() != 0 {
		t.Fatalf("unverified payload wrote %d ledger rows", h.ledger.Len())
	}
}

type brokenLedger struct {
	*InMemoryLedger
	seenErr   error
	recordErr error
}

func (l *brokenLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	if l.seenErr != nil {
		return false, l.seenErr
	}
	return l.InMemoryLedger.Seen(ctx, eventID)
}

func (l *brokenLedger) Record(ctx context.Context, rec EventRecord) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	return l.InMemoryLedger.Record(ctx, rec)
}

func TestIngest_LedgerLookupFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	ledger := &brokenLedger{InMemoryLedger: NewInMemoryLedger(), seenErr: errors.New("db down")}
	machine := orders.NewMachine(h.store, h.pub, t.Logf)
	ingest := NewIngest(h.verifier, ledger, h.store, machine, t.Logf, nil)

	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)
	if _, err := ingest.Process(context.Background(), body, header); err == nil {
		t.Fatalf("expected transient error to surface for processor retry")
	}

	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePending {
		t.Fatalf("state = %s, want PENDING", got.State)
	}
}

func TestIngest_LedgerWriteFailureDoesNotUndoMutation(t *testing.T) {
	h := newHarness(t)
	h.pendingOrder(t, "o-1", 9900)
	var logged []string
	logf := func(format string, args ...any) { logged = append(logged, fmt.Sprintf(format, args...)) }
	ledger := &brokenLedger{InMemoryLedger: NewInMemoryLedger(), recordErr: errors.New("db down")}
	machine := orders.NewMachine(h.store, h.pub, logf)
	ingest := NewIngest(h.verifier, ledger, h.store, machine, logf, nil)

	body, header := signedEvent(t, h.verifier, "evt_1", gateway.EventPaymentCompleted, "o-1", "ch_1", 9900)
	outcome, err := ingest.Process(context.Background(), body, header)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want APPLIED", outcome)
	}

	got, _ := h.store.Get(context.Background(), "o-1")
	if got.State != orders.StatePaid {
		t.Fatalf("state = %s, want PAID", got.State)
	}
	if len(logged) == 0 {
		t.Fatalf("ledger write failure was not logged")
	}
}
