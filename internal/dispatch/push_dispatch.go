package dispatch

import (
	"context"
	"errors"

	"github.com/example/ride-companion/internal/models"
)

// PushDispatcher tries the user's websocket first and falls back to the
// push provider when no session is open or the write fails.
type PushDispatcher struct {
	WS       *WSRegistry
	Fallback Notifier
}

func NewPushDispatcher(ws *WSRegistry, fallback Notifier) *PushDispatcher {
	return &PushDispatcher{WS: ws, Fallback: fallback}
}

func (p *PushDispatcher) Notify(ctx context.Context, userID string, n models.Notification) error {
	if p.WS != nil {
		err := p.WS.Notify(ctx, userID, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNoSession) && p.Fallback == nil {
			return err
		}
	}
	if p.Fallback == nil {
		return ErrNoSession
	}
	return p.Fallback.Notify(ctx, userID, n)
}
