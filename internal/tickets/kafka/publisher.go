package kafka

import (
	"context"

	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
	"ticketmarket/internal/tickets/db"
)

// Publisher turns ticket state into the versioned snapshots other services
// consume. Events are keyed by ticket id so one ticket's stream stays
// ordered per consumer group.
type Publisher struct {
	Producer *kafka.Producer
}

func (p *Publisher) PublishTicketCreated(ctx context.Context, ticket db.Ticket) error {
	return p.Producer.Publish(ctx, events.TopicTicketCreated, ticket.ID, events.TicketCreated{
		ID:      ticket.ID,
		Title:   ticket.Title,
		Price:   ticket.Price,
		UserID:  ticket.UserID,
		Version: ticket.Version,
	})
}

func (p *Publisher) PublishTicketUpdated(ctx context.Context, ticket db.Ticket) error {
	return p.Producer.Publish(ctx, events.TopicTicketUpdated, ticket.ID, events.TicketUpdated{
		ID:      ticket.ID,
		Title:   ticket.Title,
		Price:   ticket.Price,
		UserID:  ticket.UserID,
		OrderID: ticket.OrderID,
		Version: ticket.Version,
	})
}
