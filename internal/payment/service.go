package payment

import (
	"context"
	"errors"
	"fmt"

	"ticketmarket/internal/events"
	"ticketmarket/internal/logger"
	"ticketmarket/internal/payment/storage"
	"ticketmarket/internal/store"
	"ticketmarket/internal/utils"
)

var (
	ErrNotOwner       = errors.New("order does not belong to user")
	ErrOrderCancelled = errors.New("order is cancelled and cannot be paid")
	ErrAlreadyPaid    = errors.New("order has already been paid")
)

// Charger is the card-charging backend. Production uses Stripe; tests use a
// recording fake. The idempotency key (the payment id) makes a re-issued
// charge a no-op at the provider, so a resumed attempt cannot bill twice.
type Charger interface {
	Charge(ctx context.Context, token string, amount float64, idempotencyKey, description string) (string, error)
}

type Publisher interface {
	PublishPaymentCreated(ctx context.Context, payment *storage.Payment) error
}

type PaymentService struct {
	Store  storage.Store
	Cards  Charger
	Events Publisher
	Log    *logger.Logger
}

// CreatePayment charges the order's price against the given card token and
// records the payment. The amount comes from the local order snapshot, never
// from the request, so a client cannot pay less than the seller asked.
func (s *PaymentService) CreatePayment(ctx context.Context, userID, orderID, token string) (*storage.Payment, error) {
	snap, err := s.Store.GetOrderSnapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if snap.UserID != userID {
		return nil, ErrNotOwner
	}

	switch snap.Status {
	case storage.StatusCancelled:
		return nil, ErrOrderCancelled
	case storage.StatusComplete:
		return s.resumePayment(ctx, orderID, token)
	}

	// Claim the order before charging: of N concurrent attempts exactly one
	// wins the pending->complete flip, so a double-submitted form cannot
	// charge the card twice.
	won, err := s.Store.MarkOrderComplete(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the flip: either a concurrent attempt got there first, or a
		// cancellation landed between the read above and the claim.
		return s.resumePayment(ctx, orderID, token)
	}

	// Persist the row before the card is charged so an interrupted attempt
	// can be resumed instead of stranding the claim.
	payment := &storage.Payment{
		ID:      utils.NewPaymentID(),
		OrderID: orderID,
		Amount:  snap.Price,
	}
	if err := s.Store.SavePayment(ctx, payment); err != nil {
		if revertErr := s.Store.MarkOrderPending(ctx, orderID); revertErr != nil {
			s.Log.Error("PAYMENT", fmt.Sprintf("revert claim on order %s: %v", orderID, revertErr))
		}
		return nil, err
	}

	stripeID, err := s.Cards.Charge(ctx, token, snap.Price, payment.ID, fmt.Sprintf("order %s", orderID))
	if err != nil {
		if cleanupErr := s.Store.DeletePayment(ctx, payment.ID); cleanupErr != nil {
			s.Log.Error("PAYMENT", fmt.Sprintf("remove declined payment %s: %v", payment.ID, cleanupErr))
		}
		if revertErr := s.Store.MarkOrderPending(ctx, orderID); revertErr != nil {
			s.Log.Error("PAYMENT", fmt.Sprintf("revert claim on order %s: %v", orderID, revertErr))
		}
		return nil, err
	}

	payment.StripeID = stripeID
	if err := s.Store.UpdatePaymentCharge(ctx, payment.ID, stripeID); err != nil {
		// The charge went through; the row stays and a retry resumes it.
		s.Log.Error("PAYMENT", fmt.Sprintf("record charge %s on payment %s: %v", stripeID, payment.ID, err))
		return nil, err
	}

	if err := s.Events.PublishPaymentCreated(ctx, payment); err != nil {
		s.Log.Error("PAYMENT", fmt.Sprintf("publish payment_created for %s: %v", payment.ID, err))
	}

	s.Log.Info("PAYMENT", fmt.Sprintf("payment %s recorded for order %s (%.2f)", payment.ID, orderID, payment.Amount))
	return payment, nil
}

// resumePayment converges a payment attempt that found the order already
// claimed. An earlier attempt may have died at any point between the claim
// and the publish; whatever it got done is finished here so retries end in
// the same state instead of a dead end.
func (s *PaymentService) resumePayment(ctx context.Context, orderID, token string) (*storage.Payment, error) {
	snap, err := s.Store.GetOrderSnapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if snap.Status == storage.StatusCancelled {
		return nil, ErrOrderCancelled
	}

	payment, err := s.Store.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		// Claimed with no row yet: another request is mid-flight.
		return nil, ErrAlreadyPaid
	}
	if err != nil {
		return nil, err
	}

	if payment.StripeID == "" {
		// The earlier attempt persisted the row but never recorded a charge.
		// The payment id doubles as the idempotency key, so re-issuing the
		// charge is safe even if the first one reached the provider.
		stripeID, err := s.Cards.Charge(ctx, token, payment.Amount, payment.ID, fmt.Sprintf("order %s", orderID))
		if err != nil {
			return nil, err
		}
		if err := s.Store.UpdatePaymentCharge(ctx, payment.ID, stripeID); err != nil {
			return nil, err
		}
		payment.StripeID = stripeID
		s.Log.Info("PAYMENT", fmt.Sprintf("resumed interrupted payment %s for order %s", payment.ID, orderID))
	}

	// Re-announce the payment; consumers dedupe completed orders.
	if err := s.Events.PublishPaymentCreated(ctx, payment); err != nil {
		s.Log.Error("PAYMENT", fmt.Sprintf("publish payment_created for %s: %v", payment.ID, err))
	}
	return payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id, userID string) (*storage.Payment, error) {
	payment, err := s.Store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.Store.GetOrderSnapshot(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if snap.UserID != userID {
		return nil, ErrNotOwner
	}
	return payment, nil
}

// HandleOrderCreated seeds the local order snapshot. Creation events carry
// version 0, so there is nothing to gate; a second delivery is a duplicate.
func (s *PaymentService) HandleOrderCreated(ctx context.Context, ev events.OrderCreated) error {
	if _, err := s.Store.GetOrderSnapshot(ctx, ev.ID); err == nil {
		return events.ErrDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return s.Store.InsertOrderSnapshot(ctx, &storage.OrderSnapshot{
		ID:      ev.ID,
		UserID:  ev.UserID,
		Price:   ev.TicketPrice,
		Status:  ev.Status,
		Version: ev.Version,
	})
}

// HandleOrderCancelled marks the snapshot cancelled so later payment
// attempts are refused at the door.
func (s *PaymentService) HandleOrderCancelled(ctx context.Context, ev events.OrderCancelled) error {
	snap, err := s.Store.GetOrderSnapshot(ctx, ev.ID)
	if errors.Is(err, store.ErrNotFound) {
		// The order_created for this order has not arrived yet.
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

	snap.Status = storage.StatusCancelled
	snap.Version = ev.Version
	applied, err := s.Store.ApplyOrderSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	if !applied {
		// A concurrent consumer applied this version first.
		return events.ErrDuplicate
	}

	s.Log.LogOrder("CANCELLED", ev.ID, "snapshot closed to payments")
	return nil
}
