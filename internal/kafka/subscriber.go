package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ticketmarket/internal/events"
	"ticketmarket/internal/logger"
)

// HandlerFunc processes one raw message. Returning nil (or
// events.ErrDuplicate) acknowledges the message; any other error keeps it
// unacknowledged and it is retried in place. Handlers therefore must be
// idempotent.
type HandlerFunc func(ctx context.Context, value []byte) error

// Subscriber is the consumption side used by every service: a dispatch
// table keyed by topic, one durable group reader per registered topic,
// acknowledge-on-success. Consumption per partition is strictly in order:
// committing an offset acknowledges everything at or below it, so a message
// that cannot be applied yet blocks its partition rather than being fetched
// past.
type Subscriber struct {
	brokers  []string
	groupID  string
	handlers map[string]HandlerFunc
	readers  []*kafka.Reader
	log      *logger.Logger

	// retryDelay is the initial wait between attempts on a blocked message;
	// it doubles up to maxRetryDelay while the gap persists.
	retryDelay time.Duration
}

const maxRetryDelay = 30 * time.Second

func NewSubscriber(brokers []string, groupID string, log *logger.Logger) *Subscriber {
	return &Subscriber{
		brokers:    brokers,
		groupID:    groupID,
		handlers:   make(map[string]HandlerFunc),
		log:        log,
		retryDelay: time.Second,
	}
}

// Register binds a handler to a topic. Must be called before Start.
func (s *Subscriber) Register(topic string, handler HandlerFunc) {
	s.handlers[topic] = handler
}

// Start launches one consume loop per registered topic. It returns
// immediately; loops stop when ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) {
	for topic, handler := range s.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  s.brokers,
			Topic:    topic,
			GroupID:  s.groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		})
		s.readers = append(s.readers, reader)

		go s.consume(ctx, reader, topic, handler)
		s.log.LogKafka("SUBSCRIBE", topic, fmt.Sprintf("group=%s", s.groupID))
	}
}

func (s *Subscriber) consume(ctx context.Context, reader *kafka.Reader, topic string, handler HandlerFunc) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.log.LogKafka("FETCH-FAIL", topic, err.Error())
			time.Sleep(time.Second)
			continue
		}

		if err := s.handleUntilApplied(ctx, topic, handler, msg); err != nil {
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			// Redelivery after a failed commit is harmless: handlers are
			// idempotent under the version gate.
			s.log.LogKafka("COMMIT-FAIL", topic, err.Error())
		}
	}
}

// handleUntilApplied invokes the handler until the message is applied or
// acknowledged as a duplicate. Committing a later offset would permanently
// acknowledge every earlier one on the partition, so a message held back by
// a version gap (or a transient handler failure) is retried in place; the
// gap fills from the other topics' readers while it waits. Returns only
// when the message may be committed, or when ctx is cancelled.
func (s *Subscriber) handleUntilApplied(ctx context.Context, topic string, handler HandlerFunc, msg kafka.Message) error {
	delay := s.retryDelay
	for {
		err := handler(ctx, msg.Value)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, events.ErrDuplicate):
			s.log.LogKafka("DUPLICATE", topic, fmt.Sprintf("offset=%d acknowledged as no-op", msg.Offset))
			return nil
		case errors.Is(err, events.ErrOutOfOrder):
			s.log.LogKafka("OUT-OF-ORDER", topic, fmt.Sprintf("offset=%d blocked until the gap fills", msg.Offset))
		default:
			s.log.LogKafka("HANDLE-FAIL", topic, fmt.Sprintf("offset=%d: %v", msg.Offset, err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
}

// Dispatch looks up the handler registered for a topic. Exposed so tests
// and in-process fan-out can route through the same table the consume
// loops use.
func (s *Subscriber) Dispatch(ctx context.Context, topic string, value []byte) error {
	handler, ok := s.handlers[topic]
	if !ok {
		return fmt.Errorf("no handler registered for topic %s", topic)
	}
	return handler(ctx, value)
}

func (s *Subscriber) Close() error {
	var firstErr error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
