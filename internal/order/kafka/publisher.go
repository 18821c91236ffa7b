package kafka

import (
	"context"

	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
	"ticketmarket/internal/order/db"
)

// Publisher emits order lifecycle events, keyed by order id.
type Publisher struct {
	Producer *kafka.Producer
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, order db.Order) error {
	return p.Producer.Publish(ctx, events.TopicOrderCreated, order.ID, events.OrderCreated{
		ID:          order.ID,
		TicketID:    order.TicketID,
		UserID:      order.UserID,
		Status:      order.Status,
		TicketPrice: order.TicketPrice,
		ExpiresAt:   order.ExpiresAt,
		Version:     order.Version,
	})
}

func (p *Publisher) PublishOrderCancelled(ctx context.Context, order db.Order) error {
	return p.Producer.Publish(ctx, events.TopicOrderCancelled, order.ID, events.OrderCancelled{
		ID:       order.ID,
		TicketID: order.TicketID,
		Version:  order.Version,
	})
}
