package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ticketmarket/internal/store"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- orders ----------------

func (d *DB) CreateOrder(ctx context.Context, order *Order) error {
	order.Version = 0
	_, err := d.Bun.NewInsert().Model(order).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	var order Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	return &order, nil
}

func (d *DB) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	var orders []Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return orders, nil
}

// UpdateOrder persists a status/pass mutation with compare-and-increment.
// Request handlers, event consumers and the expiration sweep all go through
// this one check, so concurrent transitions elect exactly one winner.
func (d *DB) UpdateOrder(ctx context.Context, order *Order) error {
	res, err := d.Bun.NewUpdate().
		Model((*Order)(nil)).
		Set("status = ?", order.Status).
		Set("pass = ?", order.Pass).
		Set("version = ?", order.Version+1).
		Where("id = ?", order.ID).
		Where("version = ?", order.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if rows == 0 {
		return store.ErrVersionConflict
	}

	order.Version++
	return nil
}

// ListExpiredPending returns every pending order whose reservation window
// has closed.
func (d *DB) ListExpiredPending(ctx context.Context, now time.Time) ([]Order, error) {
	var orders []Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", StatusPending).
		Where("expires_at <= ?", now).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select expired orders: %w", err)
	}
	return orders, nil
}

// ---------------- ticket snapshots ----------------

func (d *DB) GetTicketSnapshot(ctx context.Context, ticketID string) (*TicketSnapshot, error) {
	var snap TicketSnapshot
	err := d.Bun.NewSelect().
		Model(&snap).
		Where("id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ticket snapshot: %w", err)
	}
	return &snap, nil
}

func (d *DB) InsertTicketSnapshot(ctx context.Context, snap *TicketSnapshot) error {
	_, err := d.Bun.NewInsert().Model(snap).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert ticket snapshot: %w", err)
	}
	return nil
}

// UpdateTicketSnapshot applies an incoming versioned snapshot. The write is
// guarded on the previous event version so two consumers replaying the same
// delivery cannot double-apply.
func (d *DB) UpdateTicketSnapshot(ctx context.Context, snap *TicketSnapshot) error {
	res, err := d.Bun.NewUpdate().
		Model((*TicketSnapshot)(nil)).
		Set("title = ?", snap.Title).
		Set("price = ?", snap.Price).
		Set("user_id = ?", snap.UserID).
		Set("order_id = ?", orderIDValue(snap.OrderID)).
		Set("version = ?", snap.Version).
		Where("id = ?", snap.ID).
		Where("version = ?", snap.Version-1).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket snapshot: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket snapshot: %w", err)
	}
	if rows == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

// ReserveTicket atomically claims a snapshot for an order. Exactly one of
// any number of concurrent claims succeeds; the claim does not touch the
// event version, which tracks the tickets service's stream.
func (d *DB) ReserveTicket(ctx context.Context, ticketID, orderID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*TicketSnapshot)(nil)).
		Set("order_id = ?", orderID).
		Where("id = ?", ticketID).
		Where("order_id IS NULL OR order_id = ''").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("reserve ticket: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve ticket: %w", err)
	}
	return rows > 0, nil
}

// ReleaseTicket clears a claim, but only for the order that holds it.
func (d *DB) ReleaseTicket(ctx context.Context, ticketID, orderID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*TicketSnapshot)(nil)).
		Set("order_id = ?", (*string)(nil)).
		Where("id = ?", ticketID).
		Where("order_id = ?", orderID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release ticket: %w", err)
	}
	return nil
}

func orderIDValue(orderID string) any {
	if orderID == "" {
		return (*string)(nil)
	}
	return orderID
}
