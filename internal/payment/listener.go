package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
)

// Listener keeps the local order snapshots in step with the orders service.
type Listener struct {
	Service *PaymentService
}

func (l *Listener) Register(sub *kafka.Subscriber) {
	sub.Register(events.TopicOrderCreated, l.handleOrderCreated)
	sub.Register(events.TopicOrderCancelled, l.handleOrderCancelled)
}

func (l *Listener) handleOrderCreated(ctx context.Context, value []byte) error {
	var ev events.OrderCreated
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("unmarshal order_created: %w", err)
	}
	return l.Service.HandleOrderCreated(ctx, ev)
}

func (l *Listener) handleOrderCancelled(ctx context.Context, value []byte) error {
	var ev events.OrderCancelled
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("unmarshal order_cancelled: %w", err)
	}
	return l.Service.HandleOrderCancelled(ctx, ev)
}
