package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-companion/internal/geo"
	"github.com/example/ride-companion/internal/models"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { c.closed = true; return nil }

func TestKafkaProducerKeysMessages(t *testing.T) {
	loc, ev := &captureWriter{}, &captureWriter{}
	p := &KafkaProducer{locations: loc, events: ev}
	ctx := context.Background()

	err := p.PublishLocation(ctx, models.DriverLocation{DriverID: "d1", Coordinates: geo.Point{Lon: 77.2, Lat: 28.6}, At: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if string(loc.msgs[0].Key) != "d1" {
		t.Fatalf("expected driver key, got %q", loc.msgs[0].Key)
	}
	var decoded map[string]json.RawMessage
	_ = json.Unmarshal(loc.msgs[0].Value, &decoded)
	if string(decoded["coordinates"]) != "[77.2,28.6]" {
		t.Fatalf("expected [lon,lat] coordinates, got %s", decoded["coordinates"])
	}

	_ = p.PublishRideEvent(ctx, models.RideEvent{Type: models.EventRideCompleted, RideID: "RD1", Status: models.RideCompleted})
	m := ev.msgs[0]
	if string(m.Key) != "RD1" || len(m.Headers) != 1 || string(m.Headers[0].Value) != "ride.completed" {
		t.Fatalf("unexpected event message %+v", m)
	}

	if err := p.Close(); err != nil || !loc.closed || !ev.closed {
		t.Fatal("expected both writers closed")
	}
}

type captureChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (c *captureChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *captureChannel) Close() error { c.closed = true; return nil }

func TestAMQPPublisherRoutesByEventType(t *testing.T) {
	ch := &captureChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "ride_topic"}
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	err := p.PublishRideEvent(context.Background(), models.RideEvent{Type: models.EventRideCanceled, RideID: "RD2", Status: models.RideCanceled, At: at})
	if err != nil {
		t.Fatal(err)
	}
	if ch.exchange != "ride_topic" || ch.key != "ride.canceled" {
		t.Fatalf("unexpected routing %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.MessageId != "RD2:ride.canceled" || !ch.msg.Timestamp.Equal(at) {
		t.Fatalf("unexpected publishing %+v", ch.msg)
	}
	var ev models.RideEvent
	if err := json.Unmarshal(ch.msg.Body, &ev); err != nil || ev.RideID != "RD2" {
		t.Fatalf("body did not round trip: %v %+v", err, ev)
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Fatal("expected channel closed")
	}
}
