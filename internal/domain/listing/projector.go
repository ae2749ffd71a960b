package listing

import (
	"context"

	"github.com/go-faster/errors"
)

// OrderOutcome is an order event that affects the listing it was placed on.
type OrderOutcome int

const (
	// EscrowHeld fires when the buyer's funds enter escrow.
	EscrowHeld OrderOutcome = iota + 1
	// Released fires when escrowed funds are paid out to the seller.
	Released
	// Refunded fires when escrowed funds go back to the buyer.
	Refunded
)

func (o OrderOutcome) String() string {
	switch o {
	case EscrowHeld:
		return "escrow_held"
	case Released:
		return "released"
	case Refunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Move is a single listing status change.
type Move struct {
	From Status
	To   Status
}

var moves = map[OrderOutcome]Move{
	EscrowHeld: {From: StatusPublished, To: StatusReserved},
	Released:   {From: StatusReserved, To: StatusSold},
	Refunded:   {From: StatusReserved, To: StatusPublished},
}

// Project returns the listing move caused by outcome. The second result is
// false when the outcome does not touch the listing.
func Project(outcome OrderOutcome) (Move, bool) {
	m, ok := moves[outcome]
	return m, ok
}

// Projector applies order outcomes to listings through the repository. It is
// meant to run inside the same transaction as the order update so that the
// two never diverge.
type Projector struct {
	listings Repository
}

// NewProjector creates a Projector backed by listings.
func NewProjector(listings Repository) *Projector {
	return &Projector{listings: listings}
}

// Apply moves listingID according to outcome. A listing that is not in the
// move's source status yields ErrStatusConflict.
func (p *Projector) Apply(ctx context.Context, listingID string, outcome OrderOutcome) error {
	m, ok := Project(outcome)
	if !ok {
		return nil
	}
	if err := p.listings.ConditionalUpdateStatus(ctx, listingID, m.From, m.To); err != nil {
		return errors.Wrapf(err, "project %s onto listing %s", outcome, listingID)
	}
	return nil
}
