// Package notify delivers outbox events to the notification collaborator.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"
	"github.com/segmentio/kafka-go"
)

// Publisher hands one event to the notification side. Delivery is best
// effort; a returned error only schedules a retry.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload []byte) error
}

// KafkaPublisher writes events to kafka, one topic per event type.
type KafkaPublisher struct {
	writer       *kafka.Writer
	topicByEvent map[string]string
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic(eventType),
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) topic(eventType string) string {
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		return mapped
	}
	return eventType
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher only logs events. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, eventType, key string, payload []byte) error {
	logger.Infof("notify: event=%s key=%s payload=%s", eventType, key, payload)
	return nil
}
