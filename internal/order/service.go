package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketmarket/internal/events"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/order/db"
	"ticketmarket/internal/order/pass"
	"ticketmarket/internal/store"
	"ticketmarket/internal/utils"
)

var (
	// ErrTicketReserved means another active order already holds the ticket.
	ErrTicketReserved = errors.New("ticket is already reserved")
	// ErrInvalidTransition rejects transitions out of a terminal state.
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrOrderCancelled rejects anything that would resurrect a cancelled
	// order, late payments included.
	ErrOrderCancelled = errors.New("order is cancelled")
	// ErrNotOwner rejects access to another user's order.
	ErrNotOwner = errors.New("order belongs to another user")
	// ErrNoPass means the order has not completed, so no pass exists yet.
	ErrNoPass = errors.New("order has no entry pass")
)

type DBLayer interface {
	CreateOrder(ctx context.Context, order *db.Order) error
	GetOrderByID(ctx context.Context, id string) (*db.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]db.Order, error)
	UpdateOrder(ctx context.Context, order *db.Order) error
	ListExpiredPending(ctx context.Context, now time.Time) ([]db.Order, error)

	GetTicketSnapshot(ctx context.Context, ticketID string) (*db.TicketSnapshot, error)
	InsertTicketSnapshot(ctx context.Context, snap *db.TicketSnapshot) error
	UpdateTicketSnapshot(ctx context.Context, snap *db.TicketSnapshot) error
	ReserveTicket(ctx context.Context, ticketID, orderID string) (bool, error)
	ReleaseTicket(ctx context.Context, ticketID, orderID string) error
}

type Publisher interface {
	PublishOrderCreated(ctx context.Context, order db.Order) error
	PublishOrderCancelled(ctx context.Context, order db.Order) error
}

// OrderService owns the order lifecycle and is the single arbiter of who
// holds a ticket. Its view of tickets is the local snapshot table, kept
// fresh by the tickets service's event stream; it never reads another
// service's database.
type OrderService struct {
	DB     DBLayer
	Events Publisher
	Passes *pass.Generator
	Log    *logger.Logger

	// ExpirationWindow is how long a created order holds its ticket before
	// the sweep cancels it.
	ExpirationWindow time.Duration
}

func NewOrderService(dbLayer DBLayer, pub Publisher, passes *pass.Generator, window time.Duration, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:               dbLayer,
		Events:           pub,
		Passes:           passes,
		Log:              log,
		ExpirationWindow: window,
	}
}

// CreateOrder reserves a ticket for a buyer. The claim on the local
// snapshot is a single conditional write, so concurrent attempts on the
// same ticket elect exactly one winner; the losers get ErrTicketReserved.
func (s *OrderService) CreateOrder(ctx context.Context, userID, ticketID string) (*db.Order, error) {
	snap, err := s.DB.GetTicketSnapshot(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if snap.OrderID != "" {
		return nil, ErrTicketReserved
	}

	orderID := utils.NewID()
	claimed, err := s.DB.ReserveTicket(ctx, ticketID, orderID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrTicketReserved
	}

	order := &db.Order{
		ID:          orderID,
		UserID:      userID,
		Status:      db.StatusPending,
		TicketID:    ticketID,
		TicketPrice: snap.Price,
		ExpiresAt:   time.Now().Add(s.ExpirationWindow),
	}
	if err := s.DB.CreateOrder(ctx, order); err != nil {
		if relErr := s.DB.ReleaseTicket(ctx, ticketID, orderID); relErr != nil {
			s.Log.Error("ORDER", fmt.Sprintf("rollback claim for ticket %s: %v", ticketID, relErr))
		}
		return nil, err
	}

	if err := s.Events.PublishOrderCreated(ctx, *order); err != nil {
		return nil, fmt.Errorf("publish order_created: %w", err)
	}

	s.Log.LogOrder("CREATED", order.ID, fmt.Sprintf("ticket %s held until %s", ticketID, order.ExpiresAt.Format(time.RFC3339)))
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID, userID string) (*db.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, ErrNotOwner
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]db.Order, error) {
	return s.DB.ListOrdersByUser(ctx, userID)
}

// CancelOrder moves a pending order to cancelled, releases the local claim
// and publishes order_cancelled. An empty userID means a system caller (the
// expiration sweep); otherwise the requester must own the order. Both the
// sweep and explicit cancellation run through here, so a manual cancel
// racing the scheduler resolves to a single winner on the version check.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID string) error {
	order, err := s.mutateWithRetry(ctx, orderID, func(o *db.Order) error {
		if userID != "" && o.UserID != userID {
			return ErrNotOwner
		}
		switch o.Status {
		case db.StatusComplete:
			return ErrInvalidTransition
		case db.StatusCancelled:
			return ErrOrderCancelled
		}
		o.Status = db.StatusCancelled
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.DB.ReleaseTicket(ctx, order.TicketID, order.ID); err != nil {
		s.Log.Error("ORDER", fmt.Sprintf("release claim for ticket %s: %v", order.TicketID, err))
	}

	if err := s.Events.PublishOrderCancelled(ctx, *order); err != nil {
		return fmt.Errorf("publish order_cancelled: %w", err)
	}

	s.Log.LogOrder("CANCELLED", order.ID, fmt.Sprintf("ticket %s released", order.TicketID))
	return nil
}

// GetPass returns the QR entry pass of a completed order.
func (s *OrderService) GetPass(ctx context.Context, orderID, userID string) ([]byte, error) {
	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != db.StatusComplete || len(order.Pass) == 0 {
		return nil, ErrNoPass
	}
	return order.Pass, nil
}

// HandlePaymentCreated completes a pending order. A payment against a
// cancelled order is rejected: a dead reservation never comes back.
func (s *OrderService) HandlePaymentCreated(ctx context.Context, ev events.PaymentCreated) error {
	order, err := s.DB.GetOrderByID(ctx, ev.OrderID)
	if errors.Is(err, store.ErrNotFound) {
		s.Log.Warn("PAYMENT", fmt.Sprintf("payment %s references unknown order %s", ev.ID, ev.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	switch order.Status {
	case db.StatusCancelled:
		return ErrOrderCancelled
	case db.StatusComplete:
		return events.ErrDuplicate
	}

	entryPass, err := s.Passes.Generate(order.ID, order.TicketID)
	if err != nil {
		return fmt.Errorf("generate pass: %w", err)
	}

	_, err = s.mutateWithRetry(ctx, ev.OrderID, func(o *db.Order) error {
		switch o.Status {
		case db.StatusCancelled:
			return ErrOrderCancelled
		case db.StatusComplete:
			return events.ErrDuplicate
		}
		o.Status = db.StatusComplete
		o.Pass = entryPass
		return nil
	})
	if err != nil {
		return err
	}

	s.Log.LogOrder("COMPLETED", ev.OrderID, fmt.Sprintf("payment %s for %.2f", ev.ID, ev.Amount))
	return nil
}

// HandleTicketCreated seeds the local snapshot for a newly listed ticket.
func (s *OrderService) HandleTicketCreated(ctx context.Context, ev events.TicketCreated) error {
	_, err := s.DB.GetTicketSnapshot(ctx, ev.ID)
	if err == nil {
		return events.ErrDuplicate
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return s.DB.InsertTicketSnapshot(ctx, &db.TicketSnapshot{
		ID:      ev.ID,
		Title:   ev.Title,
		Price:   ev.Price,
		UserID:  ev.UserID,
		Version: ev.Version,
	})
}

// HandleTicketUpdated refreshes the local snapshot, gated on the event
// version: exactly the next version applies, older versions are duplicates,
// and a gap means a predecessor is still in flight.
func (s *OrderService) HandleTicketUpdated(ctx context.Context, ev events.TicketUpdated) error {
	snap, err := s.DB.GetTicketSnapshot(ctx, ev.ID)
	if errors.Is(err, store.ErrNotFound) {
		// The creation event has not arrived yet.
		return events.ErrOutOfOrder
	}
	if err != nil {
		return err
	}

	switch store.Gate(snap.Version, ev.Version) {
	case store.Duplicate:
		return events.ErrDuplicate
	case store.OutOfOrder:
		return events.ErrOutOfOrder
	}

	next := &db.TicketSnapshot{
		ID:      ev.ID,
		Title:   ev.Title,
		Price:   ev.Price,
		UserID:  ev.UserID,
		OrderID: ev.OrderID,
		Version: ev.Version,
	}
	// A local claim exists before the tickets service has reflected it.
	// An in-flight update that predates a live claim must not wipe it, but
	// a claim whose order is no longer pending is stale: keeping it would
	// swallow the release and hold the ticket forever.
	if next.OrderID == "" && snap.OrderID != "" {
		holder, err := s.DB.GetOrderByID(ctx, snap.OrderID)
		switch {
		case err == nil && holder.Status == db.StatusPending:
			next.OrderID = snap.OrderID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	err = s.DB.UpdateTicketSnapshot(ctx, next)
	if errors.Is(err, store.ErrVersionConflict) {
		// A concurrent consumer applied this version first.
		return events.ErrDuplicate
	}
	return err
}

func (s *OrderService) mutateWithRetry(ctx context.Context, orderID string, mutate func(*db.Order) error) (*db.Order, error) {
	for attempt := 0; attempt < store.MaxRetries; attempt++ {
		order, err := s.DB.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if err := mutate(order); err != nil {
			return nil, err
		}

		err = s.DB.UpdateOrder(ctx, order)
		if errors.Is(err, store.ErrVersionConflict) {
			s.Log.Debug("OCC", fmt.Sprintf("order %s version conflict, retrying", orderID))
			continue
		}
		if err != nil {
			return nil, err
		}
		return order, nil
	}
	return nil, store.ErrVersionConflict
}
