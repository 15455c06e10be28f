// Package payments places, captures and releases card holds for rides.
package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ride-companion/internal/models"
)

// HoldBuffer is applied to the estimated fare when placing a card hold so a
// longer-than-estimated trip can still be captured in full.
const HoldBuffer = 1.25

// Gateway is the card payment provider. Amounts are in minor units.
type Gateway interface {
	Hold(ctx context.Context, amount int64, currency, reference string) (string, error)
	Capture(ctx context.Context, holdID string, amount int64) error
	Cancel(ctx context.Context, holdID string) error
}

// HoldAmount is the amount authorized for an estimated fare.
func HoldAmount(f models.Fare) int64 {
	return int64(float64(f.MinorUnits()) * HoldBuffer)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", models.ErrPayment, op, err)
}

// Hold is one authorization tracked by MemoryGateway.
type Hold struct {
	Amount   int64
	Currency string
	Captured int64
	Canceled bool
}

// MemoryGateway approves every hold. It backs card payments in local runs
// without a Stripe key.
type MemoryGateway struct {
	mu    sync.Mutex
	holds map[string]*Hold
	// FailHolds makes Hold fail, for exercising the error path.
	FailHolds bool
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{holds: make(map[string]*Hold)}
}

func (m *MemoryGateway) Hold(_ context.Context, amount int64, currency, _ string) (string, error) {
	if m.FailHolds {
		return "", wrap("hold", fmt.Errorf("card declined"))
	}
	id := "pi_" + uuid.NewString()
	m.mu.Lock()
	m.holds[id] = &Hold{Amount: amount, Currency: currency}
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryGateway) Capture(_ context.Context, holdID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok || h.Canceled {
		return wrap("capture", fmt.Errorf("no open hold %s", holdID))
	}
	if amount > h.Amount {
		amount = h.Amount
	}
	h.Captured = amount
	return nil
}

func (m *MemoryGateway) Cancel(_ context.Context, holdID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return wrap("cancel", fmt.Errorf("no hold %s", holdID))
	}
	h.Canceled = true
	return nil
}

// Get returns a copy of the hold.
func (m *MemoryGateway) Get(holdID string) (Hold, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return Hold{}, false
	}
	return *h, true
}
