package orders

import "context"

// TransitionPatch carries the fields written together with a state change.
// Nil fields are left untouched.
type TransitionPatch struct {
	ExternalChargeRef *string
	DispatchMeta      *DispatchMeta
}

// Store abstracts persistence for orders. Transition is the only mutation
// path for State: it must apply the new state atomically against the expected
// one so that concurrent callers racing on the same order produce exactly one
// winner and ErrConflict for the losers.
type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	Transition(ctx context.Context, id string, expected, next State, patch TransitionPatch) (Order, error)
	// SetExternalPaymentRef is write-once: setting the same value again is a
	// no-op, a different value returns ErrConflict.
	SetExternalPaymentRef(ctx context.Context, id, ref string) error
	UpdateInternalNotes(ctx context.Context, id, notes string) error
}
