// Package dispatch delivers ride notifications to riders and drivers.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/ride-companion/internal/models"
)

// Notifier sends a notification to one user. Failures are reported but the
// lifecycle service never rolls back a transition because of them.
type Notifier interface {
	Notify(ctx context.Context, userID string, n models.Notification) error
}

// LogNotifier only logs notifications. Used when no push endpoint is set.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, userID string, n models.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "user_id", userID, "type", n.Type, "reference", n.Reference, "title", n.Title)
	return nil
}
