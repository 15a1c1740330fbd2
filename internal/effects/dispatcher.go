// Package effects turns committed order transitions into their side effects:
// confirmation mail, patient account provisioning, dispatch notices. Effects
// run at-least-once behind per-effect idempotency markers, so a redelivered
// transition never repeats work that already succeeded.
package effects

import (
	"context"
	"errors"
	"fmt"
	"log"

	"labcart/internal/notify"
	"labcart/internal/orders"
)

// Effect names one side effect of a transition. Part of the marker key.
type Effect string

const (
	EffectConfirmationEmail Effect = "confirmation_email"
	EffectProvisionAccount  Effect = "provision_account"
	EffectDispatchEmail     Effect = "dispatch_email"
)

// MarkerStore claims and releases per-effect idempotency markers. Claim
// returns false when the effect already ran (or is running) for this
// transition.
type MarkerStore interface {
	Claim(ctx context.Context, orderID string, to orders.State, effect Effect) (bool, error)
	Release(ctx context.Context, orderID string, to orders.State, effect Effect) error
}

// Dispatcher executes the side effects of one transition event.
type Dispatcher struct {
	markers  MarkerStore
	email    notify.EmailClient
	accounts notify.AccountClient
	logf     func(format string, args ...any)
}

// NewDispatcher constructs a dispatcher over the given collaborators.
func NewDispatcher(markers MarkerStore, email notify.EmailClient, accounts notify.AccountClient) *Dispatcher {
	return &Dispatcher{
		markers:  markers,
		email:    email,
		accounts: accounts,
		logf:     log.Printf,
	}
}

// Handle runs every effect the transition calls for. Failures are collected
// rather than aborting the remaining effects; a non-nil return tells the
// caller to redeliver, and the markers guarantee only the failed effects run
// again.
func (d *Dispatcher) Handle(ctx context.Context, ev orders.TransitionEvent) error {
	var errs []error
	switch ev.To {
	case orders.StatePaid:
		errs = append(errs,
			d.run(ctx, ev, EffectConfirmationEmail, func(ctx context.Context) error {
				return d.email.SendPaymentConfirmation(ctx, ev.CustomerEmail, ev.OrderID, ev.AmountDue)
			}),
			d.run(ctx, ev, EffectProvisionAccount, func(ctx context.Context) error {
				return d.accounts.EnsureAccount(ctx, ev.CustomerEmail, ev.OrderID)
			}),
		)
	case orders.StateDispatched:
		errs = append(errs,
			d.run(ctx, ev, EffectDispatchEmail, func(ctx context.Context) error {
				return d.email.SendDispatchNotice(ctx, ev.CustomerEmail, ev.OrderID)
			}),
		)
	case orders.StateCancelled:
		// No outbound effects; cancellation is visible through the API and feed.
	}
	return errors.Join(errs...)
}

// run claims the marker, executes the effect, and releases the marker on
// failure so a redelivery retries it. A claim that fails to release after an
// effect error is logged and surfaced; the effect stays blocked until the
// marker expires.
func (d *Dispatcher) run(ctx context.Context, ev orders.TransitionEvent, effect Effect, fn func(context.Context) error) error {
	claimed, err := d.markers.Claim(ctx, ev.OrderID, ev.To, effect)
	if err != nil {
		return fmt.Errorf("claim %s for order %s: %w", effect, ev.OrderID, err)
	}
	if !claimed {
		return nil
	}

	if err := fn(ctx); err != nil {
		if relErr := d.markers.Release(ctx, ev.OrderID, ev.To, effect); relErr != nil {
			d.logf("ERROR releasing marker %s for order %s: %v", effect, ev.OrderID, relErr)
		}
		return fmt.Errorf("%s for order %s: %w", effect, ev.OrderID, err)
	}
	return nil
}
