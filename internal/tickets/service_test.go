package tickets_test

import (
	"context"
	"errors"
	"testing"

	"ticketmarket/internal/events"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/store"
	"ticketmarket/internal/tickets"
	"ticketmarket/internal/tickets/db"
)

// mockTicketDB mimics the store's compare-and-increment semantics in memory.
type mockTicketDB struct {
	tickets  map[string]*db.Ticket
	failOn   string
	errorMsg string
}

func newMockTicketDB() *mockTicketDB {
	return &mockTicketDB{tickets: make(map[string]*db.Ticket)}
}

func (m *mockTicketDB) CreateTicket(_ context.Context, ticket *db.Ticket) error {
	if m.failOn == "CreateTicket" {
		return errors.New(m.errorMsg)
	}
	ticket.Version = 0
	copied := *ticket
	m.tickets[ticket.ID] = &copied
	return nil
}

func (m *mockTicketDB) GetTicketByID(_ context.Context, id string) (*db.Ticket, error) {
	if m.failOn == "GetTicketByID" {
		return nil, errors.New(m.errorMsg)
	}
	ticket, ok := m.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *ticket
	return &copied, nil
}

func (m *mockTicketDB) ListTickets(_ context.Context) ([]db.Ticket, error) {
	var list []db.Ticket
	for _, t := range m.tickets {
		list = append(list, *t)
	}
	return list, nil
}

func (m *mockTicketDB) UpdateTicket(_ context.Context, ticket *db.Ticket) error {
	if m.failOn == "UpdateTicket" {
		return errors.New(m.errorMsg)
	}
	current, ok := m.tickets[ticket.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != ticket.Version {
		return store.ErrVersionConflict
	}
	ticket.Version++
	copied := *ticket
	m.tickets[ticket.ID] = &copied
	return nil
}

// recordingPublisher captures published events instead of writing to Kafka.
type recordingPublisher struct {
	created []db.Ticket
	updated []db.Ticket
	failOn  string
}

func (p *recordingPublisher) PublishTicketCreated(_ context.Context, ticket db.Ticket) error {
	if p.failOn == "PublishTicketCreated" {
		return errors.New("kafka unavailable")
	}
	p.created = append(p.created, ticket)
	return nil
}

func (p *recordingPublisher) PublishTicketUpdated(_ context.Context, ticket db.Ticket) error {
	if p.failOn == "PublishTicketUpdated" {
		return errors.New("kafka unavailable")
	}
	p.updated = append(p.updated, ticket)
	return nil
}

func newTestService() (*tickets.TicketService, *mockTicketDB, *recordingPublisher) {
	mockDB := newMockTicketDB()
	pub := &recordingPublisher{}
	return tickets.NewTicketService(mockDB, pub, logger.New("test")), mockDB, pub
}

func TestCreateTicketPublishes(t *testing.T) {
	service, _, pub := newTestService()

	ticket, err := service.CreateTicket(context.Background(), "seller-1", "GA Floor", 75)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if ticket.ID == "" {
		t.Error("expected generated ticket id")
	}
	if ticket.Version != 0 {
		t.Errorf("expected version 0, got %d", ticket.Version)
	}
	if len(pub.created) != 1 {
		t.Fatalf("expected 1 ticket_created event, got %d", len(pub.created))
	}
	if pub.created[0].ID != ticket.ID {
		t.Errorf("event carries wrong ticket id %s", pub.created[0].ID)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	if _, err := service.CreateTicket(ctx, "seller-1", "", 75); !errors.Is(err, tickets.ErrValidation) {
		t.Errorf("empty title: expected ErrValidation, got %v", err)
	}
	if _, err := service.CreateTicket(ctx, "seller-1", "GA Floor", 0); !errors.Is(err, tickets.ErrValidation) {
		t.Errorf("zero price: expected ErrValidation, got %v", err)
	}
	if _, err := service.CreateTicket(ctx, "seller-1", "GA Floor", -5); !errors.Is(err, tickets.ErrValidation) {
		t.Errorf("negative price: expected ErrValidation, got %v", err)
	}
}

func TestUpdateTicketBumpsVersionAndPublishes(t *testing.T) {
	service, _, pub := newTestService()
	ctx := context.Background()

	created, err := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	updated, err := service.UpdateTicket(ctx, created.ID, "seller-1", "GA Floor", 90)
	if err != nil {
		t.Fatalf("update ticket: %v", err)
	}
	if updated.Version != 1 {
		t.Errorf("expected version 1, got %d", updated.Version)
	}
	if len(pub.updated) != 1 {
		t.Fatalf("expected 1 ticket_updated event, got %d", len(pub.updated))
	}
	if pub.updated[0].Version != 1 {
		t.Errorf("event carries version %d, expected 1", pub.updated[0].Version)
	}
}

func TestUpdateTicketNotOwner(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)

	_, err := service.UpdateTicket(ctx, created.ID, "someone-else", "GA Floor", 90)
	if !errors.Is(err, tickets.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestUpdateTicketWhileReserved(t *testing.T) {
	service, mockDB, _ := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)
	mockDB.tickets[created.ID].OrderID = "order-1"

	_, err := service.UpdateTicket(ctx, created.ID, "seller-1", "GA Floor", 90)
	if !errors.Is(err, tickets.ErrTicketReserved) {
		t.Errorf("expected ErrTicketReserved, got %v", err)
	}
}

func TestHandleOrderCreatedReservesTicket(t *testing.T) {
	service, mockDB, pub := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)

	err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-1", TicketID: created.ID})
	if err != nil {
		t.Fatalf("handle order_created: %v", err)
	}

	stored := mockDB.tickets[created.ID]
	if stored.OrderID != "order-1" {
		t.Errorf("expected ticket held by order-1, got %q", stored.OrderID)
	}
	if stored.Version != 1 {
		t.Errorf("expected version bump to 1, got %d", stored.Version)
	}
	if len(pub.updated) != 1 || pub.updated[0].OrderID != "order-1" {
		t.Errorf("expected ticket_updated reflecting the reservation, got %+v", pub.updated)
	}
}

func TestHandleOrderCreatedDuplicate(t *testing.T) {
	service, _, pub := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)

	if err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-1", TicketID: created.ID}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-1", TicketID: created.ID})
	if !errors.Is(err, events.ErrDuplicate) {
		t.Fatalf("redelivery: expected ErrDuplicate, got %v", err)
	}
	if len(pub.updated) != 1 {
		t.Errorf("redelivery must not republish, got %d events", len(pub.updated))
	}
}

func TestHandleOrderCreatedHeldByOtherOrder(t *testing.T) {
	service, mockDB, pub := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)
	if err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-1", TicketID: created.ID}); err != nil {
		t.Fatalf("first reservation: %v", err)
	}

	// A second order for the same ticket is acknowledged but not applied:
	// the order service already refused it on its side.
	if err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-2", TicketID: created.ID}); err != nil {
		t.Fatalf("expected ack for losing order, got %v", err)
	}
	if mockDB.tickets[created.ID].OrderID != "order-1" {
		t.Errorf("losing order overwrote the claim")
	}
	if len(pub.updated) != 1 {
		t.Errorf("losing order must not republish, got %d events", len(pub.updated))
	}
}

func TestHandleOrderCreatedUnknownTicket(t *testing.T) {
	service, _, _ := newTestService()

	if err := service.HandleOrderCreated(context.Background(), events.OrderCreated{ID: "order-1", TicketID: "missing"}); err != nil {
		t.Errorf("unknown ticket should be acknowledged, got %v", err)
	}
}

func TestHandleOrderCancelledReleasesTicket(t *testing.T) {
	service, mockDB, pub := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)
	if err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-1", TicketID: created.ID}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := service.HandleOrderCancelled(ctx, events.OrderCancelled{ID: "order-1", TicketID: created.ID}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mockDB.tickets[created.ID].OrderID != "" {
		t.Errorf("expected claim cleared, got %q", mockDB.tickets[created.ID].OrderID)
	}
	if len(pub.updated) != 2 {
		t.Fatalf("expected reserve + release events, got %d", len(pub.updated))
	}
	if pub.updated[1].OrderID != "" {
		t.Errorf("release event still carries order id %q", pub.updated[1].OrderID)
	}
}

func TestHandleOrderCancelledForForeignOrder(t *testing.T) {
	service, mockDB, _ := newTestService()
	ctx := context.Background()

	created, _ := service.CreateTicket(ctx, "seller-1", "GA Floor", 75)
	if err := service.HandleOrderCreated(ctx, events.OrderCreated{ID: "order-1", TicketID: created.ID}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// A cancellation for an order that does not hold the ticket is a no-op.
	err := service.HandleOrderCancelled(ctx, events.OrderCancelled{ID: "order-9", TicketID: created.ID})
	if !errors.Is(err, events.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if mockDB.tickets[created.ID].OrderID != "order-1" {
		t.Errorf("foreign cancellation released the claim")
	}
}
