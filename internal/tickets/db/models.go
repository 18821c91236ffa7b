package db

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is the tickets service's authoritative record. OrderID is the sole
// reservation flag: empty means the ticket is up for sale. Version increments
// by exactly one on every persisted mutation and travels with every outbound
// event.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID        string    `bun:"id,pk" json:"id"`
	Title     string    `bun:"title,notnull" json:"title"`
	Price     float64   `bun:"price,notnull" json:"price"`
	UserID    string    `bun:"user_id,notnull" json:"user_id"`
	OrderID   string    `bun:"order_id,nullzero" json:"order_id,omitempty"`
	Version   int64     `bun:"version,notnull,default:0" json:"version"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// Reserved reports whether a non-cancelled order currently holds the ticket.
func (t *Ticket) Reserved() bool {
	return t.OrderID != ""
}
