package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-companion/internal/models"
)

func TestHoldAmountBuffersEstimate(t *testing.T) {
	f := models.CalculateFare(10, 20, 1) // total 221
	if got := HoldAmount(f); got != 27625 {
		t.Fatalf("expected 27625, got %d", got)
	}
}

func TestMemoryGatewayLifecycle(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGateway()
	id, err := g.Hold(ctx, 1000, "INR", "RD1")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Capture(ctx, id, 5000); err != nil {
		t.Fatal(err)
	}
	h, _ := g.Get(id)
	if h.Captured != 1000 {
		t.Fatalf("capture should be capped at the hold, got %d", h.Captured)
	}

	id2, _ := g.Hold(ctx, 500, "INR", "RD2")
	_ = g.Cancel(ctx, id2)
	if err := g.Capture(ctx, id2, 100); !errors.Is(err, models.ErrPayment) {
		t.Fatalf("expected ErrPayment capturing a canceled hold, got %v", err)
	}

	g.FailHolds = true
	if _, err := g.Hold(ctx, 1, "INR", ""); !errors.Is(err, models.ErrPayment) {
		t.Fatalf("expected ErrPayment, got %v", err)
	}
}
