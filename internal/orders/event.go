package orders

import (
	"context"
	"encoding/json"
	"time"
)

// TransitionEvent describes one committed state transition. It is what the
// side-effect pipeline consumes; the order row itself remains the source of
// truth.
type TransitionEvent struct {
	OrderID       string    `json:"order_id"`
	From          State     `json:"from"`
	To            State     `json:"to"`
	CustomerEmail string    `json:"customer_email"`
	AmountDue     int64     `json:"amount_due"`
	ChargeRef     string    `json:"charge_ref,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TransitionPublisher hands committed transitions to the side-effect pipeline.
type TransitionPublisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
}

// Broadcaster pushes messages to connected back-office clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FanoutPublisher forwards transitions to the effect queue and broadcasts
// them to the realtime feed. The queue write decides the returned error; a
// broadcast has no delivery guarantee.
type FanoutPublisher struct {
	queue       TransitionPublisher
	broadcaster Broadcaster
}

// NewFanoutPublisher constructs a publisher that fans out to the queue and broadcaster.
func NewFanoutPublisher(queue TransitionPublisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{queue: queue, broadcaster: broadcaster}
}

// Publish enqueues the transition then broadcasts it.
func (p *FanoutPublisher) Publish(ctx context.Context, ev TransitionEvent) error {
	if err := p.queue.Publish(ctx, ev); err != nil {
		return err
	}

	if p.broadcaster != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		p.broadcaster.Broadcast(data)
	}
	return nil
}
