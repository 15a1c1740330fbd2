package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"time"

	"labcart/internal/catalog"

	"github.com/google/uuid"
)

// CheckoutSession is the processor-side session created for an order.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
}

// CheckoutClient starts a hosted checkout at the payment processor.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, o Order) (CheckoutSession, error)
}

// ItemRequest is one requested catalog product on the order form.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Service owns order creation and admin-driven transitions. All state
// mutations funnel through the Store and the Machine; nothing else writes
// State or ExternalChargeRef.
type Service struct {
	store    Store
	catalog  catalog.Catalog
	checkout CheckoutClient
	machine  *Machine
	logf     func(format string, args ...any)
	newID    func() string
	now      func() time.Time
}

// NewService constructs a Service. checkout may be nil, in which case created
// orders stay without a payment ref until one is attached later.
func NewService(store Store, cat catalog.Catalog, checkout CheckoutClient, machine *Machine, logf func(format string, args ...any)) *Service {
	if logf == nil {
		logf = log.Printf
	}
	return &Service{
		store:    store,
		catalog:  cat,
		checkout: checkout,
		machine:  machine,
		logf:     logf,
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// CreateOrder prices the requested items, persists a PENDING order and
// requests a checkout session. The session id is stored as the write-once
// external payment ref; the redirect URL is returned for the storefront.
func (s *Service) CreateOrder(ctx context.Context, customerEmail string, items []ItemRequest) (Order, string, error) {
	if _, err := mail.ParseAddress(customerEmail); err != nil {
		return Order{}, "", fmt.Errorf("%w: customer email: %v", ErrValidation, err)
	}
	if len(items) == 0 {
		return Order{}, "", fmt.Errorf("%w: at least one item is required", ErrValidation)
	}

	var total int64
	lineItems := make([]LineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return Order{}, "", fmt.Errorf("%w: quantity must be > 0 for product %s", ErrValidation, item.ProductID)
		}
		price, err := s.catalog.Price(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownProduct) {
				return Order{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
			}
			return Order{}, "", err
		}
		lineItems = append(lineItems, LineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
		total += price * int64(item.Quantity)
	}
	if total <= 0 {
		return Order{}, "", fmt.Errorf("%w: order total must be > 0", ErrValidation)
	}

	now := s.now()
	order := Order{
		ID:            s.newID(),
		State:         StatePending,
		CustomerEmail: customerEmail,
		LineItems:     lineItems,
		AmountDue:     total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(ctx, order); err != nil {
		return Order{}, "", err
	}

	if s.checkout == nil {
		return order, "", nil
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, order)
	if err != nil {
		// The PENDING order stands; the storefront retries checkout creation.
		return order, "", err
	}
	if err := s.store.SetExternalPaymentRef(ctx, order.ID, session.SessionID); err != nil {
		return order, "", err
	}
	order.ExternalPaymentRef = session.SessionID

	return order, session.RedirectURL, nil
}

// Get returns the order by id.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.Get(ctx, id)
}

// Dispatch marks a PAID order dispatched on behalf of the actor.
func (s *Service) Dispatch(ctx context.Context, orderID, actor string) (Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return s.machine.Apply(ctx, o, AdminDispatch{Actor: actor})
}

// Cancel abandons a PENDING order on behalf of the actor.
func (s *Service) Cancel(ctx context.Context, orderID, actor string) (Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return s.machine.Apply(ctx, o, AdminCancel{Actor: actor})
}

// UpdateNotes replaces the free-text internal notes outside the state machine.
func (s *Service) UpdateNotes(ctx context.Context, orderID, notes string) error {
	return s.store.UpdateInternalNotes(ctx, orderID, notes)
}
