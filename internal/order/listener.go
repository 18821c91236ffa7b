package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
	"ticketmarket/internal/logger"
)

// Listener feeds ticket snapshots and payment confirmations into the order
// service. Business rejections (a payment against a cancelled order) are
// logged and acknowledged: redelivering them could never succeed.
type Listener struct {
	Service *OrderService
	Log     *logger.Logger
}

func (l *Listener) Register(sub *kafka.Subscriber) {
	sub.Register(events.TopicTicketCreated, l.handleTicketCreated)
	sub.Register(events.TopicTicketUpdated, l.handleTicketUpdated)
	sub.Register(events.TopicPaymentCreated, l.handlePaymentCreated)
}

func (l *Listener) handleTicketCreated(ctx context.Context, value []byte) error {
	var ev events.TicketCreated
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("unmarshal ticket_created: %w", err)
	}
	return l.Service.HandleTicketCreated(ctx, ev)
}

func (l *Listener) handleTicketUpdated(ctx context.Context, value []byte) error {
	var ev events.TicketUpdated
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("unmarshal ticket_updated: %w", err)
	}
	return l.Service.HandleTicketUpdated(ctx, ev)
}

func (l *Listener) handlePaymentCreated(ctx context.Context, value []byte) error {
	var ev events.PaymentCreated
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("unmarshal payment_created: %w", err)
	}

	err := l.Service.HandlePaymentCreated(ctx, ev)
	if errors.Is(err, ErrOrderCancelled) {
		l.Log.Warn("PAYMENT", fmt.Sprintf("payment %s arrived for cancelled order %s, rejected", ev.ID, ev.OrderID))
		return nil
	}
	return err
}
