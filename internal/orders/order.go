package orders

import (
	"errors"
	"time"
)

// State is the lifecycle state of an order. The set is closed; the only legal
// edges are PENDING->PAID, PAID->DISPATCHED and PENDING->CANCELLED.
type State string

const (
	StatePending    State = "PENDING"
	StatePaid       State = "PAID"
	StateDispatched State = "DISPATCHED"
	StateCancelled  State = "CANCELLED"
)

// ValidState reports whether s is a member of the closed state set.
func ValidState(s State) bool {
	switch s {
	case StatePending, StatePaid, StateDispatched, StateCancelled:
		return true
	}
	return false
}

// DispatchMeta records who marked the order dispatched and when.
type DispatchMeta struct {
	DispatchedAt time.Time `json:"dispatched_at"`
	DispatchedBy string    `json:"dispatched_by"`
}

// LineItem is one catalog product with a quantity, priced at creation time.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // cents
}

// Order tracks one purchase from creation through fulfillment.
// AmountDue and ExternalPaymentRef are write-once; ExternalChargeRef is set
// only on the transition into PAID and anchors webhook idempotency.
// InternalNotes is mutable independently of the state machine.
type Order struct {
	ID                 string        `json:"id"`
	State              State         `json:"state"`
	CustomerEmail      string        `json:"customer_email"`
	LineItems          []LineItem    `json:"line_items,omitempty"`
	AmountDue          int64         `json:"amount_due"` // cents
	ExternalPaymentRef string        `json:"external_payment_ref,omitempty"`
	ExternalChargeRef  string        `json:"external_charge_ref,omitempty"`
	DispatchMeta       *DispatchMeta `json:"dispatch_meta,omitempty"`
	InternalNotes      string        `json:"internal_notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

var (
	// ErrValidation marks bad input; not retryable.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a lost concurrent-mutation race; callers should
	// re-read current state and decide.
	ErrConflict = errors.New("state conflict")
	// ErrIllegalTransition marks a requested state change with no edge from
	// the current state. Not retryable.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrNotFound marks a missing order.
	ErrNotFound = errors.New("order not found")
)
