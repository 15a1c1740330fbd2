package orders

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NewInMemoryStore constructs an in-memory Store. It is the dev fallback when
// no database is configured and the double used across package tests; a
// multi-instance deployment must use the Postgres store instead.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders: make(map[string]Order),
		now:    time.Now,
	}
}

// InMemoryStore keeps orders in a mutex-guarded map. The mutex gives the same
// one-winner semantics for Transition that the SQL store gets from its
// conditional UPDATE.
type InMemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
	now    func() time.Time
}

func (s *InMemoryStore) Insert(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s already exists", ErrConflict, o.ID)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *InMemoryStore) Transition(ctx context.Context, id string, expected, next State, patch TransitionPatch) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if o.State != expected {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s", ErrConflict, id, o.State, expected)
	}

	o.State = next
	if patch.ExternalChargeRef != nil {
		o.ExternalChargeRef = *patch.ExternalChargeRef
	}
	if patch.DispatchMeta != nil {
		meta := *patch.DispatchMeta
		o.DispatchMeta = &meta
	}
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return o, nil
}

func (s *InMemoryStore) SetExternalPaymentRef(ctx context.Context, id, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.ExternalPaymentRef != "" && o.ExternalPaymentRef != ref {
		return fmt.Errorf("%w: payment ref already set on order %s", ErrConflict, id)
	}
	o.ExternalPaymentRef = ref
	o.UpdatedAt = s.now()
	s.orders[id] = o
	return nil
}

func (s *InMemoryStore) UpdateInternalNotes(ctx context.Context, id, notes string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.InternalNotes = notes
	s.orders[id] = o
	return nil
}
