package payments

import (
	"context"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

// NewStripeClient sets the process-wide stripe key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, reference string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	if reference != "" {
		params.AddMetadata("ride_id", reference)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", wrap("hold", err)
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent. Amounts above the
// authorized hold are capped to it since Stripe rejects over-capture.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string, amount int64) error {
	pi, err := paymentintent.Get(paymentIntentID, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return wrap("capture lookup", err)
	}
	if amount > pi.AmountCapturable {
		amount = pi.AmountCapturable
	}
	params := &stripe.PaymentIntentCaptureParams{
		Params:          stripe.Params{Context: ctx},
		AmountToCapture: stripe.Int64(amount),
	}
	if _, err := paymentintent.Capture(paymentIntentID, params); err != nil {
		return wrap("capture", err)
	}
	return nil
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, &stripe.PaymentIntentCancelParams{Params: stripe.Params{Context: ctx}})
	return wrap("cancel", err)
}
