// Package queue moves committed transition events through Kafka so side
// effects run outside the request path. Messages are keyed by order id, which
// keeps each order's transitions on one partition and therefore in order.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"labcart/internal/orders"
)

// Producer writes transition events to the effect topic.
type Producer struct {
	w *kafka.Writer
}

// NewProducer constructs a producer. RequireAll waits for in-sync replicas
// before acking; losing a transition event means losing its side effects.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close releases the writer.
func (p *Producer) Close() error { return p.w.Close() }

// Publish writes one transition event, keyed by order id.
func (p *Producer) Publish(ctx context.Context, ev orders.TransitionEvent) error {
	if ev.OrderID == "" {
		return fmt.Errorf("transition event missing order id")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: b,
	})
}

// Handler consumes transition events; the side-effect dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, ev orders.TransitionEvent) error
}

// Consumer reads transition events from the effect topic and hands them to a
// handler. Offsets commit as messages are read, so a handler failure is not
// redelivered by the broker; the failed effects stay unmarked and run on the
// next event for the order or an operator replay.
type Consumer struct {
	r       *kafka.Reader
	handler Handler
	logf    func(format string, args ...any)
}

// NewConsumer constructs a consumer-group reader over the given handler.
func NewConsumer(brokers []string, topic, groupID string, handler Handler) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handler: handler,
		logf:    log.Printf,
	}
}

// Close releases the reader.
func (c *Consumer) Close() error { return c.r.Close() }

// Run consumes until the context is cancelled or the reader closes.
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return
		}

		var ev orders.TransitionEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.logf("ERROR effect consumer unmarshal: %v", err)
			continue
		}
		if ev.OrderID == "" || !orders.ValidState(ev.To) {
			c.logf("ERROR effect consumer: malformed event for key %q", string(m.Key))
			continue
		}

		if err := c.handler.Handle(ctx, ev); err != nil {
			// The unfinished effects stay unmarked; the next delivery of any
			// event for this order, or an operator replay, retries them.
			c.logf("ERROR effects for order %s (%s -> %s): %v", ev.OrderID, ev.From, ev.To, err)
		}
	}
}
