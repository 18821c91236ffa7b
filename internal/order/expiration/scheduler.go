// Package expiration cancels pending orders whose reservation window has
// closed. The sweep is time-driven, not request-driven, and reuses the same
// cancellation path as the API so the two can never double-apply.
package expiration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketmarket/internal/logger"
	"ticketmarket/internal/order"
	"ticketmarket/internal/store"
	"ticketmarket/internal/utils"
)

type Lock interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

type Scheduler struct {
	Service  *order.OrderService
	Lock     Lock
	Interval time.Duration
	Log      *logger.Logger

	instanceID string
}

func NewScheduler(service *order.OrderService, lock Lock, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		Service:    service,
		Lock:       lock,
		Interval:   interval,
		Log:        log,
		instanceID: utils.NewID(),
	}
}

// Run ticks until ctx is cancelled. The interval is a liveness tunable
// only; a missed or doubled tick cannot corrupt state because Sweep is
// idempotent.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.Log.Error("EXPIRATION", fmt.Sprintf("sweep failed: %v", err))
			}
		}
	}
}

// Tick runs one guarded sweep. When another instance holds the lock the
// tick is skipped; that instance is doing the same work.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.Lock != nil {
		acquired, err := s.Lock.Acquire(ctx, s.instanceID, s.Interval)
		if err != nil {
			// Losing redis only loses de-duplication, not correctness.
			s.Log.Warn("EXPIRATION", fmt.Sprintf("sweep lock unavailable, sweeping anyway: %v", err))
		} else if !acquired {
			return nil
		} else {
			defer func() {
				if err := s.Lock.Release(ctx, s.instanceID); err != nil {
					s.Log.Warn("EXPIRATION", fmt.Sprintf("release sweep lock: %v", err))
				}
			}()
		}
	}

	return s.Sweep(ctx, time.Now())
}

// Sweep cancels every pending order that expired at or before now. A
// version conflict or an already-cancelled order means a concurrent
// canceller won the race; both are skipped quietly.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) error {
	expired, err := s.Service.DB.ListExpiredPending(ctx, now)
	if err != nil {
		return err
	}

	for _, o := range expired {
		err := s.Service.CancelOrder(ctx, o.ID, "")
		switch {
		case err == nil:
			s.Log.LogOrder("EXPIRED", o.ID, fmt.Sprintf("cancelled, was due %s", o.ExpiresAt.Format(time.RFC3339)))
		case errors.Is(err, order.ErrOrderCancelled),
			errors.Is(err, order.ErrInvalidTransition),
			errors.Is(err, store.ErrVersionConflict),
			errors.Is(err, store.ErrNotFound):
			// Someone else transitioned the order first.
		default:
			s.Log.Error("EXPIRATION", fmt.Sprintf("cancel order %s: %v", o.ID, err))
		}
	}

	return nil
}
