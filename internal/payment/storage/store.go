package storage

import (
	"context"
	"time"
)

const (
	StatusPending   = "pending"
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
)

// OrderSnapshot is the payments-local projection of an order, refreshed by
// order_created/order_cancelled. Version is the order's event version;
// Status flips to complete locally when a charge is taken so a second
// payment attempt loses immediately.
type OrderSnapshot struct {
	ID      string  `json:"id"`
	UserID  string  `json:"user_id"`
	Price   float64 `json:"price"`
	Status  string  `json:"status"`
	Version int64   `json:"version"`
}

type Payment struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Amount    float64   `json:"amount"`
	StripeID  string    `json:"stripe_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	// SavePayment persists the payment row. It is written before the card is
	// charged (StripeID still empty) so an interrupted attempt leaves a
	// resumable record instead of a stranded claim.
	SavePayment(ctx context.Context, payment *Payment) error
	// UpdatePaymentCharge records the charge id once the card went through.
	UpdatePaymentCharge(ctx context.Context, id, stripeID string) error
	// DeletePayment removes the row when the charge was declined.
	DeletePayment(ctx context.Context, id string) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error)

	InsertOrderSnapshot(ctx context.Context, snap *OrderSnapshot) error
	GetOrderSnapshot(ctx context.Context, id string) (*OrderSnapshot, error)
	// ApplyOrderSnapshot persists an incoming versioned snapshot, guarded on
	// the previous event version. Returns false when the guard misses.
	ApplyOrderSnapshot(ctx context.Context, snap *OrderSnapshot) (bool, error)
	// MarkOrderComplete flips a pending snapshot to complete. Exactly one of
	// any number of concurrent payment attempts wins the flip.
	MarkOrderComplete(ctx context.Context, orderID string) (bool, error)
	// MarkOrderPending reverts a flip after a failed charge.
	MarkOrderPending(ctx context.Context, orderID string) error

	HealthCheck() error
	Close() error
}
