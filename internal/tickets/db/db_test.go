package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ticketmarket/internal/store"
	"ticketmarket/internal/tickets/db"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	if err := bunDB.ResetModel(context.Background(), (*db.Ticket)(nil)); err != nil {
		t.Fatalf("reset model: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })

	return &db.DB{Bun: bunDB}
}

func TestCreateAndGetTicket(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	ticket := &db.Ticket{
		ID:     "ticket-1",
		Title:  "Standing - Front Row",
		Price:  120.0,
		UserID: "seller-1",
	}
	if err := d.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket.Version != 0 {
		t.Errorf("expected new ticket at version 0, got %d", ticket.Version)
	}

	got, err := d.GetTicketByID(ctx, "ticket-1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Title != ticket.Title || got.Price != ticket.Price || got.UserID != ticket.UserID {
		t.Errorf("retrieved ticket does not match created: %+v", got)
	}
	if got.Reserved() {
		t.Error("new ticket should not be reserved")
	}
}

func TestGetTicketNotFound(t *testing.T) {
	d := setupTestDB(t)

	_, err := d.GetTicketByID(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTicketIncrementsVersion(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	ticket := &db.Ticket{ID: "ticket-1", Title: "Balcony", Price: 50, UserID: "seller-1"}
	if err := d.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	ticket.Price = 60
	if err := d.UpdateTicket(ctx, ticket); err != nil {
		t.Fatalf("update ticket: %v", err)
	}
	if ticket.Version != 1 {
		t.Errorf("expected version 1 after update, got %d", ticket.Version)
	}

	got, err := d.GetTicketByID(ctx, "ticket-1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Price != 60 || got.Version != 1 {
		t.Errorf("expected price 60 at version 1, got %.2f at %d", got.Price, got.Version)
	}
}

func TestUpdateTicketStaleVersionLoses(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	ticket := &db.Ticket{ID: "ticket-1", Title: "Pit", Price: 90, UserID: "seller-1"}
	if err := d.CreateTicket(ctx, ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	first, _ := d.GetTicketByID(ctx, "ticket-1")
	second, _ := d.GetTicketByID(ctx, "ticket-1")

	first.Price = 95
	if err := d.UpdateTicket(ctx, first); err != nil {
		t.Fatalf("first update should win: %v", err)
	}

	second.Price = 85
	err := d.UpdateTicket(ctx, second)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale update, got %v", err)
	}

	got, _ := d.GetTicketByID(ctx, "ticket-1")
	if got.Price != 95 {
		t.Errorf("loser overwrote winner: price %.2f", got.Price)
	}
}

func TestListTickets(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := d.CreateTicket(ctx, &db.Ticket{ID: id, Title: "t-" + id, Price: 10, UserID: "seller-1"}); err != nil {
			t.Fatalf("create ticket %s: %v", id, err)
		}
	}

	list, err := d.ListTickets(ctx)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 tickets, got %d", len(list))
	}
}
