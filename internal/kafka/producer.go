package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ticketmarket/internal/logger"
)

// Producer publishes domain events. Messages are keyed by entity id so that
// one entity's events land on one partition and reach each consumer group
// in publish order.
type Producer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}
	return &Producer{writer: writer, log: log}
}

// Publish marshals the payload and writes it to the topic. It returns once
// the broker has durably accepted the message, not once consumers have
// processed it.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		p.log.LogKafka("PUBLISH-FAIL", topic, err.Error())
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.log.LogKafka("PUBLISH", topic, string(value))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
