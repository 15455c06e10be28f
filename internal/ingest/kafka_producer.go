package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-companion/internal/models"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes driver positions and ride lifecycle events to two
// topics. Both are keyed so that one driver or one ride stays on a partition.
type KafkaProducer struct {
	locations messageWriter
	events    messageWriter
}

func NewKafkaProducer(brokers []string, locationTopic, eventTopic string) *KafkaProducer {
	return &KafkaProducer{
		locations: kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: locationTopic, Balancer: &kafka.Hash{}}),
		events:    kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: eventTopic, Balancer: &kafka.Hash{}}),
	}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, loc models.DriverLocation) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(loc.DriverID), Value: b})
}

func (k *KafkaProducer) PublishRideEvent(ctx context.Context, ev models.RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.events.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.RideID),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	})
}

func (k *KafkaProducer) Close() error {
	var first error
	for _, w := range []messageWriter{k.locations, k.events} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
