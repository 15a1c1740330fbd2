package effects

import (
	"context"

	"labcart/internal/orders"
)

// LocalPublisher runs the dispatcher synchronously in place of a queue; the
// single-process fallback when no broker is configured. Effect failures are
// logged, not returned: the transition is already durable, and surfacing the
// failure would wrongly fail the request that caused it.
type LocalPublisher struct {
	dispatcher *Dispatcher
	logf       func(format string, args ...any)
}

// NewLocalPublisher constructs a publisher that dispatches in-process.
func NewLocalPublisher(d *Dispatcher) *LocalPublisher {
	return &LocalPublisher{dispatcher: d, logf: d.logf}
}

func (p *LocalPublisher) Publish(ctx context.Context, ev orders.TransitionEvent) error {
	if err := p.dispatcher.Handle(ctx, ev); err != nil {
		p.logf("ERROR dispatching effects for order %s (%s -> %s): %v", ev.OrderID, ev.From, ev.To, err)
	}
	return nil
}
