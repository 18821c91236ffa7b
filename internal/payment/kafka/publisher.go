package kafka

import (
	"context"

	"ticketmarket/internal/events"
	"ticketmarket/internal/kafka"
	"ticketmarket/internal/payment/storage"
)

type Publisher struct {
	Producer *kafka.Producer
}

func (p *Publisher) PublishPaymentCreated(ctx context.Context, payment *storage.Payment) error {
	return p.Producer.Publish(ctx, events.TopicPaymentCreated, payment.OrderID, events.PaymentCreated{
		ID:      payment.ID,
		OrderID: payment.OrderID,
		Amount:  payment.Amount,
	})
}
