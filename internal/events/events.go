// Package events is the wire contract between services: one Kafka topic per
// subject, JSON payloads, and every payload that carries entity state also
// carries the entity's post-mutation version so consumers can discard
// duplicates and hold back out-of-order deliveries.
package events

import (
	"errors"
	"time"
)

const (
	TopicTicketCreated  = "ticket_created"
	TopicTicketUpdated  = "ticket_updated"
	TopicOrderCreated   = "order_created"
	TopicOrderCancelled = "order_cancelled"
	TopicPaymentCreated = "payment_created"
)

// AllTopics is used by service mains to bootstrap topics on startup.
var AllTopics = []string{
	TopicTicketCreated,
	TopicTicketUpdated,
	TopicOrderCreated,
	TopicOrderCancelled,
	TopicPaymentCreated,
}

var (
	// ErrDuplicate signals a message whose version was already applied.
	// The subscriber acknowledges it without reprocessing.
	ErrDuplicate = errors.New("duplicate event")

	// ErrOutOfOrder signals a version gap. The subscriber retries the
	// message in place, blocking its partition until the gap fills.
	ErrOutOfOrder = errors.New("out-of-order event")
)

type TicketCreated struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Price   float64 `json:"price"`
	UserID  string  `json:"user_id"`
	Version int64   `json:"version"`
}

type TicketUpdated struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Price   float64 `json:"price"`
	UserID  string  `json:"user_id"`
	OrderID string  `json:"order_id,omitempty"`
	Version int64   `json:"version"`
}

type OrderCreated struct {
	ID          string    `json:"id"`
	TicketID    string    `json:"ticket_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	TicketPrice float64   `json:"ticket_price"`
	ExpiresAt   time.Time `json:"expires_at"`
	Version     int64     `json:"version"`
}

type OrderCancelled struct {
	ID       string `json:"id"`
	TicketID string `json:"ticket_id"`
	Version  int64  `json:"version"`
}

type PaymentCreated struct {
	ID      string  `json:"id"`
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}
