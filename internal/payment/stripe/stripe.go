// Package stripe implements payment.Processor with Stripe PaymentIntents.
package stripe

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

var _ payment.Processor = (*Processor)(nil)

// Processor creates and retrieves Stripe PaymentIntents.
type Processor struct {
	intents *paymentintent.Client
}

// New returns a Processor authenticated with secretKey. A nil backend
// selects Stripe's default API backend.
func New(secretKey string, backend stripe.Backend) *Processor {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &Processor{intents: &paymentintent.Client{B: backend, Key: secretKey}}
}

func (p *Processor) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := p.intents.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	return toIntent(pi), nil
}

func (p *Processor) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.intents.Get(id, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return nil, payment.ErrIntentNotFound
		}
		return nil, errors.Wrapf(err, "get payment intent %s", id)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *payment.Intent {
	return &payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       mapStatus(pi.Status),
		AmountMinor:  pi.Amount,
	}
}

// mapStatus collapses Stripe's intent lifecycle into the three states the
// escrow core acts on. Only succeeded moves money into escrow.
func mapStatus(s stripe.PaymentIntentStatus) payment.IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return payment.IntentFailed
	default:
		return payment.IntentPending
	}
}
