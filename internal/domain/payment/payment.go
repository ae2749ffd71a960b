// Package payment describes the payment processor the escrow core talks to
// and the payout ledger written when escrow is released.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// IntentStatus is the processor-reported state of a payment intent.
type IntentStatus string

const (
	IntentSucceeded IntentStatus = "succeeded"
	IntentPending   IntentStatus = "pending"
	IntentFailed    IntentStatus = "failed"
)

var (
	// ErrIntentNotFound is returned when the processor has no such intent.
	ErrIntentNotFound = errors.New("payment intent not found")
	// ErrPayoutExists is returned when a payout is already recorded for an
	// order.
	ErrPayoutExists = errors.New("payout already recorded")
)

// IntentRequest describes a charge to authorize.
type IntentRequest struct {
	// AmountMinor is the amount in the currency's minor unit (cents).
	AmountMinor int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Intent is a processor-side payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountMinor  int64
}

// Processor is the external payment collaborator.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

// Payout records the amount owed to a seller for a released order.
type Payout struct {
	ID        string
	OrderID   string
	SellerID  string
	Amount    decimal.Decimal
	Currency  string
	CreatedAt time.Time
}

// Ledger stores payouts. At most one payout exists per order.
type Ledger interface {
	RecordPayout(ctx context.Context, p *Payout) error
}

// MinorUnits converts a two-decimal amount into minor units.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
