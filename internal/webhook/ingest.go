// Package webhook gatekeeps inbound payment-processor deliveries: it
// verifies, deduplicates and order-checks each event before the state machine
// is allowed to act on it.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"labcart/internal/gateway"
	"labcart/internal/orders"
)

// Outcome classifies what processing an event did.
type Outcome string

const (
	OutcomeApplied          Outcome = "APPLIED"
	OutcomeDuplicateIgnored Outcome = "DUPLICATE_IGNORED"
	OutcomeRejectedInvalid  Outcome = "REJECTED_INVALID"
	OutcomeRejectedStale    Outcome = "REJECTED_STALE"
)

// EventRecord is one row of the dedup ledger. It is written only after the
// order mutation (if any) has durably committed, which is what makes
// processor redelivery safe.
type EventRecord struct {
	EventID    string
	OrderID    string
	Outcome    Outcome
	ReceivedAt time.Time
}

// Ledger is the dedup ledger contract. Record must treat a duplicate insert
// as already-seen, not as an error.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, rec EventRecord) error
}

// Verifier checks a raw delivery and yields the normalized event.
type Verifier interface {
	VerifyAndParse(rawBody []byte, header string) (gateway.Event, error)
}

// Ingest runs the dedup guard in front of the order state machine.
type Ingest struct {
	verifier Verifier
	ledger   Ledger
	store    orders.Store
	machine  *orders.Machine
	logf     func(format string, args ...any)
	now      func() time.Time
	onResult func(outcome Outcome)
}

// NewIngest constructs the guard. onResult may be nil; when set it is invoked
// once per acknowledged delivery (metrics hook).
func NewIngest(verifier Verifier, ledger Ledger, store orders.Store, machine *orders.Machine,
	logf func(format string, args ...any), onResult func(Outcome)) *Ingest {
	if logf == nil {
		logf = log.Printf
	}
	return &Ingest{
		verifier: verifier,
		ledger:   ledger,
		store:    store,
		machine:  machine,
		logf:     logf,
		now:      time.Now,
		onResult: onResult,
	}
}

// Process handles one raw delivery. A nil error means the delivery is
// acknowledged (processed or safely ignored) and the processor must stop
// retrying. A returned error is either gateway.ErrSignatureInvalid or a
// transient internal failure; both are the only cases worth a non-2xx
// response.
func (g *Ingest) Process(ctx context.Context, rawBody []byte, signatureHeader string) (Outcome, error) {
	ev, err := g.verifier.VerifyAndParse(rawBody, signatureHeader)
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			g.logf("webhook rejected: %v", err)
			return "", err
		}
		// Authentic but unparseable; a retry cannot fix it.
		g.logf("webhook payload unusable: %v", err)
		return g.ack(OutcomeRejectedInvalid), nil
	}

	seen, err := g.ledger.Seen(ctx, ev.EventID)
	if err != nil {
		return "", fmt.Errorf("ledger lookup for event %s: %w", ev.EventID, err)
	}
	if seen {
		g.logf("webhook event %s already processed", ev.EventID)
		return g.ack(OutcomeDuplicateIgnored), nil
	}

	if ev.Type != gateway.EventPaymentCompleted {
		g.logf("webhook event %s has unhandled type %s", ev.EventID, ev.Type)
		g.record(ctx, ev, OutcomeRejectedInvalid)
		return g.ack(OutcomeRejectedInvalid), nil
	}

	order, err := g.store.Get(ctx, ev.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		// Permanently unresolvable; acknowledged so the processor stops, but
		// loud enough for an operator to notice.
		g.logf("ERROR webhook event %s references unknown order %q", ev.EventID, ev.OrderID)
		g.record(ctx, ev, OutcomeRejectedInvalid)
		return g.ack(OutcomeRejectedInvalid), nil
	}
	if err != nil {
		return "", fmt.Errorf("load order %s for event %s: %w", ev.OrderID, ev.EventID, err)
	}

	if order.State != orders.StatePending {
		g.logf("webhook event %s arrived after order %s advanced to %s", ev.EventID, order.ID, order.State)
		g.record(ctx, ev, OutcomeRejectedStale)
		return g.ack(OutcomeRejectedStale), nil
	}

	_, err = g.machine.Apply(ctx, order, orders.PaymentCompleted{
		ChargeRef:  ev.ChargeRef,
		AmountPaid: ev.AmountPaid,
	})
	switch {
	case err == nil:
		g.record(ctx, ev, OutcomeApplied)
		return g.ack(OutcomeApplied), nil
	case errors.Is(err, orders.ErrConflict):
		// Lost the race to a concurrent delivery: equivalent to already applied.
		g.logf("webhook event %s lost transition race on order %s: %v", ev.EventID, order.ID, err)
		g.record(ctx, ev, OutcomeRejectedStale)
		return g.ack(OutcomeRejectedStale), nil
	case errors.Is(err, orders.ErrValidation), errors.Is(err, orders.ErrIllegalTransition):
		// Retrying would not change the answer; the order is untouched.
		g.logf("ERROR webhook event %s rejected on order %s: %v", ev.EventID, order.ID, err)
		g.record(ctx, ev, OutcomeRejectedInvalid)
		return g.ack(OutcomeRejectedInvalid), nil
	default:
		return "", fmt.Errorf("apply event %s to order %s: %w", ev.EventID, order.ID, err)
	}
}

// record writes the ledger row after the order mutation. A failure here only
// risks a redundant redelivery, which the dedup and stale checks absorb, so
// it never turns a processed delivery into an error.
func (g *Ingest) record(ctx context.Context, ev gateway.Event, outcome Outcome) {
	rec := EventRecord{
		EventID:    ev.EventID,
		OrderID:    ev.OrderID,
		Outcome:    outcome,
		ReceivedAt: g.now(),
	}
	if err := g.ledger.Record(ctx, rec); err != nil {
		g.logf("record webhook event %s: %v", ev.EventID, err)
	}
}

func (g *Ingest) ack(outcome Outcome) Outcome {
	if g.onResult != nil {
		g.onResult(outcome)
	}
	return outcome
}
