package order_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"ticketmarket/internal/events"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/order"
	"ticketmarket/internal/order/db"
	"ticketmarket/internal/order/pass"
	"ticketmarket/internal/store"
)

// mockOrderDB reproduces the store's concurrency semantics in memory: the
// compare-and-increment on orders and the conditional claim on snapshots.
type mockOrderDB struct {
	orders    map[string]*db.Order
	snapshots map[string]*db.TicketSnapshot
}

func newMockOrderDB() *mockOrderDB {
	return &mockOrderDB{
		orders:    make(map[string]*db.Order),
		snapshots: make(map[string]*db.TicketSnapshot),
	}
}

func (m *mockOrderDB) CreateOrder(_ context.Context, o *db.Order) error {
	o.Version = 0
	copied := *o
	m.orders[o.ID] = &copied
	return nil
}

func (m *mockOrderDB) GetOrderByID(_ context.Context, id string) (*db.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *mockOrderDB) ListOrdersByUser(_ context.Context, userID string) ([]db.Order, error) {
	var list []db.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			list = append(list, *o)
		}
	}
	return list, nil
}

func (m *mockOrderDB) UpdateOrder(_ context.Context, o *db.Order) error {
	current, ok := m.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != o.Version {
		return store.ErrVersionConflict
	}
	o.Version++
	copied := *o
	m.orders[o.ID] = &copied
	return nil
}

func (m *mockOrderDB) ListExpiredPending(_ context.Context, now time.Time) ([]db.Order, error) {
	var list []db.Order
	for _, o := range m.orders {
		if o.Status == db.StatusPending && !o.ExpiresAt.After(now) {
			list = append(list, *o)
		}
	}
	return list, nil
}

func (m *mockOrderDB) GetTicketSnapshot(_ context.Context, ticketID string) (*db.TicketSnapshot, error) {
	s, ok := m.snapshots[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockOrderDB) InsertTicketSnapshot(_ context.Context, snap *db.TicketSnapshot) error {
	copied := *snap
	m.snapshots[snap.ID] = &copied
	return nil
}

func (m *mockOrderDB) UpdateTicketSnapshot(_ context.Context, snap *db.TicketSnapshot) error {
	current, ok := m.snapshots[snap.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != snap.Version-1 {
		return store.ErrVersionConflict
	}
	copied := *snap
	m.snapshots[snap.ID] = &copied
	return nil
}

func (m *mockOrderDB) ReserveTicket(_ context.Context, ticketID, orderID string) (bool, error) {
	s, ok := m.snapshots[ticketID]
	if !ok || s.OrderID != "" {
		return false, nil
	}
	s.OrderID = orderID
	return true, nil
}

func (m *mockOrderDB) ReleaseTicket(_ context.Context, ticketID, orderID string) error {
	s, ok := m.snapshots[ticketID]
	if ok && s.OrderID == orderID {
		s.OrderID = ""
	}
	return nil
}

type recordingPublisher struct {
	created   []db.Order
	cancelled []db.Order
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, o db.Order) error {
	p.created = append(p.created, o)
	return nil
}

func (p *recordingPublisher) PublishOrderCancelled(_ context.Context, o db.Order) error {
	p.cancelled = append(p.cancelled, o)
	return nil
}

func newTestService() (*order.OrderService, *mockOrderDB, *recordingPublisher) {
	mockDB := newMockOrderDB()
	pub := &recordingPublisher{}
	service := order.NewOrderService(mockDB, pub, pass.NewGenerator("test-secret"), 15*time.Minute, logger.New("test"))
	return service, mockDB, pub
}

func seedSnapshot(m *mockOrderDB, ticketID string, price float64) {
	m.snapshots[ticketID] = &db.TicketSnapshot{
		ID: ticketID, Title: "GA Floor", Price: price, UserID: "seller-1", Version: 0,
	}
}

func TestCreateOrderReservesTicket(t *testing.T) {
	service, mockDB, pub := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)

	created, err := service.CreateOrder(context.Background(), "buyer-1", "ticket-1")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if created.Status != db.StatusPending {
		t.Errorf("expected pending order, got %s", created.Status)
	}
	if created.TicketPrice != 50 {
		t.Errorf("expected snapshotted price 50, got %.2f", created.TicketPrice)
	}
	if created.ExpiresAt.Before(time.Now().Add(14 * time.Minute)) {
		t.Errorf("expiration window not applied: %s", created.ExpiresAt)
	}
	if mockDB.snapshots["ticket-1"].OrderID != created.ID {
		t.Errorf("ticket claim not recorded")
	}
	if len(pub.created) != 1 || pub.created[0].ID != created.ID {
		t.Errorf("expected order_created event, got %+v", pub.created)
	}
}

func TestCreateOrderTicketAlreadyReserved(t *testing.T) {
	service, mockDB, _ := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	if _, err := service.CreateOrder(ctx, "buyer-1", "ticket-1"); err != nil {
		t.Fatalf("first order: %v", err)
	}
	_, err := service.CreateOrder(ctx, "buyer-2", "ticket-1")
	if !errors.Is(err, order.ErrTicketReserved) {
		t.Fatalf("expected ErrTicketReserved, got %v", err)
	}
}

func TestCreateOrderUnknownTicket(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.CreateOrder(context.Background(), "buyer-1", "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	service, mockDB, _ := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	created, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")

	if _, err := service.GetOrder(ctx, created.ID, "buyer-1"); err != nil {
		t.Errorf("owner read: %v", err)
	}
	if _, err := service.GetOrder(ctx, created.ID, "buyer-2"); !errors.Is(err, order.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	// An empty user id is a system caller.
	if _, err := service.GetOrder(ctx, created.ID, ""); err != nil {
		t.Errorf("system read: %v", err)
	}
}

func TestCancelOrderReleasesAndPublishes(t *testing.T) {
	service, mockDB, pub := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	created, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")

	if err := service.CancelOrder(ctx, created.ID, "buyer-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := mockDB.orders[created.ID]
	if got.Status != db.StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1 after cancel, got %d", got.Version)
	}
	if mockDB.snapshots["ticket-1"].OrderID != "" {
		t.Errorf("claim not released on cancel")
	}
	if len(pub.cancelled) != 1 || pub.cancelled[0].Version != 1 {
		t.Errorf("expected order_cancelled at version 1, got %+v", pub.cancelled)
	}
}

func TestCancelOrderTerminalStates(t *testing.T) {
	service, mockDB, _ := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	created, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")

	if err := service.CancelOrder(ctx, created.ID, "buyer-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := service.CancelOrder(ctx, created.ID, "buyer-1"); !errors.Is(err, order.ErrOrderCancelled) {
		t.Errorf("double cancel: expected ErrOrderCancelled, got %v", err)
	}

	completed, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")
	if err := service.HandlePaymentCreated(ctx, events.PaymentCreated{ID: "pay-1", OrderID: completed.ID, Amount: 50}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := service.CancelOrder(ctx, completed.ID, "buyer-1"); !errors.Is(err, order.ErrInvalidTransition) {
		t.Errorf("cancel complete order: expected ErrInvalidTransition, got %v", err)
	}
}

func TestHandlePaymentCreatedCompletesOrder(t *testing.T) {
	service, mockDB, _ := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	created, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")

	if err := service.HandlePaymentCreated(ctx, events.PaymentCreated{ID: "pay-1", OrderID: created.ID, Amount: 50}); err != nil {
		t.Fatalf("handle payment: %v", err)
	}

	got := mockDB.orders[created.ID]
	if got.Status != db.StatusComplete {
		t.Errorf("expected complete, got %s", got.Status)
	}
	if len(got.Pass) == 0 {
		t.Error("completed order has no entry pass")
	}
	if !bytes.HasPrefix(got.Pass, []byte("\x89PNG")) {
		t.Error("entry pass is not a PNG")
	}

	png, err := service.GetPass(ctx, created.ID, "buyer-1")
	if err != nil {
		t.Fatalf("get pass: %v", err)
	}
	if !bytes.Equal(png, got.Pass) {
		t.Error("GetPass returned different bytes")
	}
}

func TestHandlePaymentCreatedDuplicate(t *testing.T) {
	service, mockDB, _ := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	created, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")
	ev := events.PaymentCreated{ID: "pay-1", OrderID: created.ID, Amount: 50}

	if err := service.HandlePaymentCreated(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := service.HandlePaymentCreated(ctx, ev); !errors.Is(err, events.ErrDuplicate) {
		t.Errorf("redelivery: expected ErrDuplicate, got %v", err)
	}
}

func TestLatePaymentOnCancelledOrder(t *testing.T) {
	service, mockDB, _ := newTestService()
	seedSnapshot(mockDB, "ticket-1", 50)
	ctx := context.Background()

	created, _ := service.CreateOrder(ctx, "buyer-1", "ticket-1")
	if err := service.CancelOrder(ctx, created.ID, "buyer-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err := service.HandlePaymentCreated(ctx, events.PaymentCreated{ID: "pay-1", OrderID: created.ID, Amount: 50})
	if !errors.Is(err, order.ErrOrderCancelled) {
		t.Fatalf("expected ErrOrderCancelled, got %v", err)
	}

	// The dead order stays dead.
	got := mockDB.orders[created.ID]
	if got.Status != db.StatusCancelled {
		t.Errorf("late payment resurrected the order: %s", got.Status)
	}
	if _, err := service.GetPass(ctx, created.ID, "buyer-1"); !errors.Is(err, order.ErrNoPass) {
		t.Errorf("expected ErrNoPass, got %v", err)
	}
}

func TestHandlePaymentCreatedUnknownOrder(t *testing.T) {
	service, _, _ := newTestService()

	if err := service.HandlePaymentCreated(context.Background(), events.PaymentCreated{ID: "pay-1", OrderID: "missing"}); err != nil {
		t.Errorf("unknown order should be acknowledged, got %v", err)
	}
}

func TestHandleTicketCreated(t *testing.T) {
	service, mockDB, _ := newTestService()
	ctx := context.Background()

	ev := events.TicketCreated{ID: "ticket-1", Title: "GA Floor", Price: 50, UserID: "seller-1", Version: 0}
	if err := service.HandleTicketCreated(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if mockDB.snapshots["ticket-1"] == nil {
		t.Fatal("snapshot not inserted")
	}
	if err := service.HandleTicketCreated(ctx, ev); !errors.Is(err, events.ErrDuplicate) {
		t.Errorf("redelivery: expected ErrDuplicate, got %v", err)
	}
}

func TestHandleTicketUpdatedVersionGate(t *testing.T) {
	service, mockDB, _ := newTestService()
	ctx := context.Background()
	seedSnapshot(mockDB, "ticket-1", 50)

	// An event skipping ahead is held back.
	ahead := events.TicketUpdated{ID: "ticket-1", Title: "GA Floor", Price: 70, UserID: "seller-1", Version: 3}
	if err := service.HandleTicketUpdated(ctx, ahead); !errors.Is(err, events.ErrOutOfOrder) {
		t.Errorf("gap: expected ErrOutOfOrder, got %v", err)
	}

	next := events.TicketUpdated{ID: "ticket-1", Title: "GA Floor", Price: 60, UserID: "seller-1", Version: 1}
	if err := service.HandleTicketUpdated(ctx, next); err != nil {
		t.Fatalf("apply version 1: %v", err)
	}
	if mockDB.snapshots["ticket-1"].Price != 60 {
		t.Errorf("snapshot price not updated: %.2f", mockDB.snapshots["ticket-1"].Price)
	}

	// Replays of an applied version are duplicates.
	if err := service.HandleTicketUpdated(ctx, next); !errors.Is(err, events.ErrDuplicate) {
		t.Errorf("replay: expected ErrDuplicate, got %v", err)
	}

	// An update for a ticket never seen means the creation is still in flight.
	unknown := events.TicketUpdated{ID: "ticket-9", Version: 1}
	if err := service.HandleTicketUpdated(ctx, unknown); !errors.Is(err, events.ErrOutOfOrder) {
		t.Errorf("unknown ticket: expected ErrOutOfOrder, got %v", err)
	}
}

func TestHandleTicketUpdatedKeepsLocalClaim(t *testing.T) {
	service, mockDB, _ := newTestService()
	ctx := context.Background()
	seedSnapshot(mockDB, "ticket-1", 50)

	created, err := service.CreateOrder(ctx, "buyer-1", "ticket-1")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// A price edit that left the tickets service before the reservation was
	// reflected carries no order id; applying it must not wipe the claim.
	ev := events.TicketUpdated{ID: "ticket-1", Title: "GA Floor", Price: 60, UserID: "seller-1", Version: 1}
	if err := service.HandleTicketUpdated(ctx, ev); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	snap := mockDB.snapshots["ticket-1"]
	if snap.OrderID != created.ID {
		t.Errorf("in-flight update wiped the reservation claim, got %q", snap.OrderID)
	}
	if snap.Price != 60 {
		t.Errorf("price not applied: %.2f", snap.Price)
	}
}

// An order cancelled before the tickets service reflects its reservation:
// the late reservation reflection re-records the dead order's claim, and the
// release reflection that follows must clear it rather than being treated as
// a claim-preserving in-flight update.
func TestHandleTicketUpdatedDropsCancelledClaim(t *testing.T) {
	service, mockDB, _ := newTestService()
	ctx := context.Background()
	seedSnapshot(mockDB, "ticket-1", 50)

	created, err := service.CreateOrder(ctx, "buyer-1", "ticket-1")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if err := service.CancelOrder(ctx, created.ID, "buyer-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Reservation reflection arrives after the cancel.
	held := events.TicketUpdated{ID: "ticket-1", Title: "GA Floor", Price: 50, UserID: "seller-1", OrderID: created.ID, Version: 1}
	if err := service.HandleTicketUpdated(ctx, held); err != nil {
		t.Fatalf("apply reservation reflection: %v", err)
	}

	// Release reflection follows; the cancelled order's claim must go.
	released := events.TicketUpdated{ID: "ticket-1", Title: "GA Floor", Price: 50, UserID: "seller-1", Version: 2}
	if err := service.HandleTicketUpdated(ctx, released); err != nil {
		t.Fatalf("apply release reflection: %v", err)
	}

	if got := mockDB.snapshots["ticket-1"].OrderID; got != "" {
		t.Fatalf("cancelled order still holds the ticket: %q", got)
	}
	if _, err := service.CreateOrder(ctx, "buyer-2", "ticket-1"); err != nil {
		t.Errorf("ticket not reorderable after cancelled claim cleared: %v", err)
	}
}

// One ticket, two buyers: first creates the winning order and pays, the
// second is refused at creation, and the seller's edit is refused while the
// ticket is held.
func TestSingleTicketPurchaseFlow(t *testing.T) {
	service, mockDB, pub := newTestService()
	ctx := context.Background()

	if err := service.HandleTicketCreated(ctx, events.TicketCreated{ID: "ticket-1", Title: "Front Row", Price: 150, UserID: "seller-1", Version: 0}); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}

	winner, err := service.CreateOrder(ctx, "buyer-1", "ticket-1")
	if err != nil {
		t.Fatalf("winner order: %v", err)
	}
	if _, err := service.CreateOrder(ctx, "buyer-2", "ticket-1"); !errors.Is(err, order.ErrTicketReserved) {
		t.Fatalf("loser should get ErrTicketReserved, got %v", err)
	}

	if err := service.HandlePaymentCreated(ctx, events.PaymentCreated{ID: "pay-1", OrderID: winner.ID, Amount: 150}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if mockDB.orders[winner.ID].Status != db.StatusComplete {
		t.Fatalf("winning order not completed")
	}
	if len(pub.created) != 1 || len(pub.cancelled) != 0 {
		t.Errorf("unexpected events: created=%d cancelled=%d", len(pub.created), len(pub.cancelled))
	}
}
