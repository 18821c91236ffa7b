package db

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	StatusPending   = "pending"
	StatusComplete  = "complete"
	StatusCancelled = "cancelled"
)

// Order is the orders service's authoritative record. Status only ever moves
// pending -> complete or pending -> cancelled; both are terminal. TicketPrice
// is the price snapshotted at creation so a later edit cannot change what the
// buyer owes.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID          string    `bun:"id,pk" json:"id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	Status      string    `bun:"status,notnull" json:"status"`
	TicketID    string    `bun:"ticket_id,notnull" json:"ticket_id"`
	TicketPrice float64   `bun:"ticket_price,notnull" json:"ticket_price"`
	ExpiresAt   time.Time `bun:"expires_at,notnull" json:"expires_at"`
	Pass        []byte    `bun:"pass,nullzero" json:"-"`
	Version     int64     `bun:"version,notnull,default:0" json:"version"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// TicketSnapshot is the orders-local projection of the tickets service's
// state, refreshed by ticket_created/ticket_updated. Version is the ticket's
// event version, used to gate out-of-order and duplicate deliveries.
// OrderID doubles as the reservation claim: order creation sets it with an
// atomic conditional update before the event round-trip confirms it.
type TicketSnapshot struct {
	bun.BaseModel `bun:"table:ticket_snapshots"`

	ID      string  `bun:"id,pk" json:"id"`
	Title   string  `bun:"title,notnull" json:"title"`
	Price   float64 `bun:"price,notnull" json:"price"`
	UserID  string  `bun:"user_id,notnull" json:"user_id"`
	OrderID string  `bun:"order_id,nullzero" json:"order_id,omitempty"`
	Version int64   `bun:"version,notnull" json:"version"`
}
