// Package ingest moves driver positions and ride events across the message
// bus: Kafka for both streams, RabbitMQ as an alternative event sink.
package ingest

import (
	"context"
	"log/slog"

	"github.com/example/ride-companion/internal/models"
)

// EventPublisher emits ride lifecycle events.
type EventPublisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

// LocationPublisher feeds raw driver positions to the consumer.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.DriverLocation) error
}

// LogPublisher logs events at debug level. It is the default sink when no
// bus is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (l *LogPublisher) PublishRideEvent(_ context.Context, ev models.RideEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("ride event", "type", ev.Type, "ride_id", ev.RideID, "status", ev.Status)
	return nil
}
