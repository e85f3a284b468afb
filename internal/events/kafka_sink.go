package events

import (
	"context"
	"encoding/json"
	"fmt"

	"enquiry-service/internal/bucketing"
)

// Producer is satisfied by client.KafkaProducer
type Producer interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

type KafkaSink struct {
	producer Producer
	closer   func() error
}

func NewKafkaSink(producer Producer, closer func() error) *KafkaSink {
	return &KafkaSink{producer: producer, closer: closer}
}

func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	headers := map[string]string{
		"event-type":  event.Type,
		"event-id":    event.ID,
		"date-bucket": bucketing.DateBucket(event.OccurredAt),
	}
	return s.producer.ProduceMessage(ctx, []byte(event.Key()), value, headers)
}

func (s *KafkaSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
