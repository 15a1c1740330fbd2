package orders

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Trigger is a request to move an order along one of its lifecycle edges.
type Trigger interface {
	isTrigger()
}

// PaymentCompleted reports a verified charge from the payment processor.
type PaymentCompleted struct {
	ChargeRef  string
	AmountPaid int64 // cents
}

// AdminDispatch marks the order dispatched by a back-office actor.
type AdminDispatch struct {
	Actor string
}

// AdminCancel abandons a pending order.
type AdminCancel struct {
	Actor string
}

func (PaymentCompleted) isTrigger() {}
func (AdminDispatch) isTrigger()    {}
func (AdminCancel) isTrigger()      {}

// Machine applies lifecycle transitions through the store's compare-and-swap
// path and publishes a TransitionEvent for each committed transition. A
// publish failure is logged and never rolls back the transition.
type Machine struct {
	store     Store
	publisher TransitionPublisher
	logf      func(format string, args ...any)
	now       func() time.Time
}

// NewMachine constructs a Machine. publisher may be nil when no side-effect
// pipeline is wired (tests).
func NewMachine(store Store, publisher TransitionPublisher, logf func(format string, args ...any)) *Machine {
	if logf == nil {
		logf = log.Printf
	}
	return &Machine{
		store:     store,
		publisher: publisher,
		logf:      logf,
		now:       time.Now,
	}
}

// Apply computes and commits the transition for the trigger against the
// order's current state. The expected-state check is re-run atomically inside
// the store, so a stale snapshot loses with ErrConflict rather than
// overwriting a concurrent winner.
func (m *Machine) Apply(ctx context.Context, o Order, trigger Trigger) (Order, error) {
	var (
		updated Order
		err     error
		ev      TransitionEvent
	)

	switch t := trigger.(type) {
	case PaymentCompleted:
		if o.State != StatePending {
			return Order{}, fmt.Errorf("%w: payment completed on %s order %s", ErrIllegalTransition, o.State, o.ID)
		}
		if t.AmountPaid != o.AmountDue {
			return Order{}, fmt.Errorf("%w: amount paid %d does not match amount due %d on order %s",
				ErrValidation, t.AmountPaid, o.AmountDue, o.ID)
		}
		chargeRef := t.ChargeRef
		updated, err = m.store.Transition(ctx, o.ID, StatePending, StatePaid, TransitionPatch{
			ExternalChargeRef: &chargeRef,
		})
		ev = TransitionEvent{From: StatePending, To: StatePaid, ChargeRef: t.ChargeRef}

	case AdminDispatch:
		if o.State != StatePaid {
			return Order{}, fmt.Errorf("%w: dispatch requested on %s order %s", ErrIllegalTransition, o.State, o.ID)
		}
		meta := DispatchMeta{DispatchedAt: m.now(), DispatchedBy: t.Actor}
		updated, err = m.store.Transition(ctx, o.ID, StatePaid, StateDispatched, TransitionPatch{
			DispatchMeta: &meta,
		})
		ev = TransitionEvent{From: StatePaid, To: StateDispatched, Actor: t.Actor}

	case AdminCancel:
		if o.State != StatePending {
			return Order{}, fmt.Errorf("%w: cancel requested on %s order %s", ErrIllegalTransition, o.State, o.ID)
		}
		updated, err = m.store.Transition(ctx, o.ID, StatePending, StateCancelled, TransitionPatch{})
		ev = TransitionEvent{From: StatePending, To: StateCancelled, Actor: t.Actor}

	default:
		return Order{}, fmt.Errorf("%w: unknown trigger %T", ErrValidation, trigger)
	}

	if err != nil {
		return Order{}, err
	}

	ev.OrderID = updated.ID
	ev.CustomerEmail = updated.CustomerEmail
	ev.AmountDue = updated.AmountDue
	ev.OccurredAt = m.now()
	m.publish(ctx, ev)

	return updated, nil
}

func (m *Machine) publish(ctx context.Context, ev TransitionEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		// The transition is already durable; redelivery of the effect is the
		// dispatcher's problem, losing the state change would be ours.
		m.logf("publish transition %s %s->%s: %v", ev.OrderID, ev.From, ev.To, err)
	}
}
