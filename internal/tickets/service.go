package tickets

import (
	"context"
	"errors"
	"fmt"

	"ticketmarket/internal/events"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/store"
	"ticketmarket/internal/tickets/db"
	"ticketmarket/internal/utils"
)

var (
	// ErrValidation rejects tickets with an empty title or non-positive price.
	ErrValidation = errors.New("ticket must have a title and a positive price")
	// ErrNotOwner rejects edits by anyone but the listing seller.
	ErrNotOwner = errors.New("ticket belongs to another user")
	// ErrTicketReserved rejects edits while an order holds the ticket.
	ErrTicketReserved = errors.New("ticket is reserved by an open order")
)

type DBLayer interface {
	CreateTicket(ctx context.Context, ticket *db.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*db.Ticket, error)
	ListTickets(ctx context.Context) ([]db.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *db.Ticket) error
}

type Publisher interface {
	PublishTicketCreated(ctx context.Context, ticket db.Ticket) error
	PublishTicketUpdated(ctx context.Context, ticket db.Ticket) error
}

// TicketService owns ticket identity, price and title. For reservations it
// is a downstream reflector: the order service decides who holds a ticket,
// this service mirrors the decision into OrderID and republishes the new
// snapshot.
type TicketService struct {
	DB     DBLayer
	Events Publisher
	Log    *logger.Logger
}

func NewTicketService(dbLayer DBLayer, events Publisher, log *logger.Logger) *TicketService {
	return &TicketService{DB: dbLayer, Events: events, Log: log}
}

func (s *TicketService) CreateTicket(ctx context.Context, userID, title string, price float64) (*db.Ticket, error) {
	if title == "" || price <= 0 {
		return nil, ErrValidation
	}

	ticket := &db.Ticket{
		ID:     utils.NewID(),
		Title:  title,
		Price:  price,
		UserID: userID,
	}
	if err := s.DB.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	if err := s.Events.PublishTicketCreated(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("publish ticket_created: %w", err)
	}
	return ticket, nil
}

func (s *TicketService) GetTicket(ctx context.Context, id string) (*db.Ticket, error) {
	return s.DB.GetTicketByID(ctx, id)
}

func (s *TicketService) ListTickets(ctx context.Context) ([]db.Ticket, error) {
	return s.DB.ListTickets(ctx)
}

// UpdateTicket edits title and price. Edits are refused while the ticket is
// reserved so a buyer never pays a price that moved under them.
func (s *TicketService) UpdateTicket(ctx context.Context, id, userID, title string, price float64) (*db.Ticket, error) {
	if title == "" || price <= 0 {
		return nil, ErrValidation
	}

	ticket, err := s.mutateWithRetry(ctx, id, func(t *db.Ticket) error {
		if t.UserID != userID {
			return ErrNotOwner
		}
		if t.Reserved() {
			return ErrTicketReserved
		}
		t.Title = title
		t.Price = price
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.Events.PublishTicketUpdated(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("publish ticket_updated: %w", err)
	}
	return ticket, nil
}

// HandleOrderCreated mirrors a new reservation. The order service already
// arbitrated the claim, so a ticket that is missing or held by a different
// order is logged and skipped rather than vetoed.
func (s *TicketService) HandleOrderCreated(ctx context.Context, ev events.OrderCreated) error {
	ticket, err := s.DB.GetTicketByID(ctx, ev.TicketID)
	if errors.Is(err, store.ErrNotFound) {
		s.Log.Warn("RESERVE", fmt.Sprintf("order %s references unknown ticket %s", ev.ID, ev.TicketID))
		return nil
	}
	if err != nil {
		return err
	}

	if ticket.OrderID == ev.ID {
		return events.ErrDuplicate
	}
	if ticket.Reserved() {
		s.Log.Warn("RESERVE", fmt.Sprintf("ticket %s already held by order %s, ignoring order %s", ticket.ID, ticket.OrderID, ev.ID))
		return nil
	}

	ticket, err = s.mutateWithRetry(ctx, ev.TicketID, func(t *db.Ticket) error {
		if t.OrderID == ev.ID {
			return events.ErrDuplicate
		}
		t.OrderID = ev.ID
		return nil
	})
	if err != nil {
		return err
	}

	s.Log.LogOrder("RESERVED", ev.ID, fmt.Sprintf("ticket %s now version %d", ticket.ID, ticket.Version))
	return s.Events.PublishTicketUpdated(ctx, *ticket)
}

// HandleOrderCancelled releases a reservation, but only if the cancelled
// order is the one currently holding the ticket.
func (s *TicketService) HandleOrderCancelled(ctx context.Context, ev events.OrderCancelled) error {
	ticket, err := s.DB.GetTicketByID(ctx, ev.TicketID)
	if errors.Is(err, store.ErrNotFound) {
		s.Log.Warn("RELEASE", fmt.Sprintf("cancelled order %s references unknown ticket %s", ev.ID, ev.TicketID))
		return nil
	}
	if err != nil {
		return err
	}

	if ticket.OrderID != ev.ID {
		// Already released, or re-reserved by a later order.
		return events.ErrDuplicate
	}

	ticket, err = s.mutateWithRetry(ctx, ev.TicketID, func(t *db.Ticket) error {
		if t.OrderID != ev.ID {
			return events.ErrDuplicate
		}
		t.OrderID = ""
		return nil
	})
	if err != nil {
		return err
	}

	s.Log.LogOrder("RELEASED", ev.ID, fmt.Sprintf("ticket %s now version %d", ticket.ID, ticket.Version))
	return s.Events.PublishTicketUpdated(ctx, *ticket)
}

// mutateWithRetry is the read-mutate-write critical section: not a lock but
// a bounded loop around the store's compare-and-increment check.
func (s *TicketService) mutateWithRetry(ctx context.Context, id string, mutate func(*db.Ticket) error) (*db.Ticket, error) {
	for attempt := 0; attempt < store.MaxRetries; attempt++ {
		ticket, err := s.DB.GetTicketByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(ticket); err != nil {
			return nil, err
		}

		err = s.DB.UpdateTicket(ctx, ticket)
		if errors.Is(err, store.ErrVersionConflict) {
			s.Log.Debug("OCC", fmt.Sprintf("ticket %s version conflict, retrying", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		return ticket, nil
	}
	return nil, store.ErrVersionConflict
}
