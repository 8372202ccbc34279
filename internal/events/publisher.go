// Package events publishes security audit events to Kafka and
// Elasticsearch.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"phone-auth-service/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, event *models.SecurityEvent) error
}

type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes events to a topic keyed by phone hash.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *models.SecurityEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	key := event.PhoneHash
	if key == "" {
		key = event.IPAddress
	}
	headers := map[string]string{"event-type": string(event.EventType)}
	if err := p.producer.Produce(ctx, p.topic, []byte(key), value, headers); err != nil {
		return fmt.Errorf("failed to publish security event: %w", err)
	}
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event *models.SecurityEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, *models.SecurityEvent) error { return nil }
