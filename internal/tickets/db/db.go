package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ticketmarket/internal/store"
)

type DB struct {
	Bun *bun.DB
}

// CreateTicket inserts a new ticket at version 0.
func (d *DB) CreateTicket(ctx context.Context, ticket *Ticket) error {
	ticket.Version = 0
	_, err := d.Bun.NewInsert().Model(ticket).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*Ticket, error) {
	var ticket Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ticket: %w", err)
	}
	return &ticket, nil
}

func (d *DB) ListTickets(ctx context.Context) ([]Ticket, error) {
	var tickets []Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select tickets: %w", err)
	}
	return tickets, nil
}

// UpdateTicket persists a mutation with compare-and-increment: the write
// applies only if the stored version still equals the version the caller
// read. On success the ticket's Version is advanced to the persisted value.
func (d *DB) UpdateTicket(ctx context.Context, ticket *Ticket) error {
	res, err := d.Bun.NewUpdate().
		Model((*Ticket)(nil)).
		Set("title = ?", ticket.Title).
		Set("price = ?", ticket.Price).
		Set("user_id = ?", ticket.UserID).
		Set("order_id = ?", orderIDValue(ticket.OrderID)).
		Set("version = ?", ticket.Version+1).
		Where("id = ?", ticket.ID).
		Where("version = ?", ticket.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if rows == 0 {
		return store.ErrVersionConflict
	}

	ticket.Version++
	return nil
}

// orderIDValue maps the empty reservation flag to NULL so the nullzero
// column round-trips cleanly.
func orderIDValue(orderID string) any {
	if orderID == "" {
		return (*string)(nil)
	}
	return orderID
}
