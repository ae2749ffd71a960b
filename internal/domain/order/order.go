// Package order implements the escrow order lifecycle: the state machine,
// its authorization guard, fee computation and protection-code handling.
package order

import (
	"context"
	"time"
)

// Status is the single authoritative lifecycle state of an order.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusPaid       Status = "PAID"
	StatusEscrowHold Status = "ESCROW_HOLD"
	StatusShipped    Status = "SHIPPED"
	StatusHandedOver Status = "HANDED_OVER"
	StatusDelivered  Status = "DELIVERED"
	StatusAccepted   Status = "ACCEPTED"
	StatusReleased   Status = "RELEASED"
	StatusDisputed   Status = "DISPUTED"
	StatusRefunded   Status = "REFUNDED"
)

// Live reports whether an order in status s blocks another purchase of the
// same listing by the same buyer.
func (s Status) Live() bool {
	switch s {
	case StatusCreated, StatusPaid, StatusEscrowHold:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusDisputed:
		return true
	}
	return false
}

// PostPayment reports whether funds have been captured for an order in s.
func (s Status) PostPayment() bool {
	switch s {
	case StatusCreated:
		return false
	}
	return true
}

// ProtectionCode is the single-use secret the buyer enters on receipt.
type ProtectionCode struct {
	Code       string
	Used       bool
	VerifiedAt *time.Time
}

// Shipment holds carrier data recorded at the SHIPPED transition.
type Shipment struct {
	Carrier        string
	TrackingNumber string
}

// Timeline holds one timestamp per state reached. Each is set exactly once.
type Timeline struct {
	PaidAt       *time.Time
	EscrowAt     *time.Time
	ShippedAt    *time.Time
	HandedOverAt *time.Time
	DeliveredAt  *time.Time
	AcceptedAt   *time.Time
	ReleasedAt   *time.Time
	DisputedAt   *time.Time
	RefundedAt   *time.Time
}

// Order is the transactional escrow aggregate.
type Order struct {
	ID        string
	ListingID string
	BuyerID   string
	SellerID  string

	Fees          Fees
	HasProtection bool

	Status     Status
	Protection ProtectionCode
	Shipment   Shipment
	Timeline   Timeline

	PaymentIntentID string
	PaymentStatus   string

	IsLocalPickup   bool
	ShippingAddress string
	DisputeReason   string

	// Version increments on every committed update and backs the optimistic
	// concurrency check together with Status.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch is the set of fields a transition writes. Nil fields are left as
// stored; timeline timestamps that are already set are never overwritten.
type Patch struct {
	Status        Status
	PaymentStatus *string
	Shipment      *Shipment
	Protection    *ProtectionCode
	Timeline      Timeline
	DisputeReason *string
}

// Apply returns a copy of o with p applied, following the same rules the
// repositories use.
func (p Patch) Apply(o Order) Order {
	o.Status = p.Status
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.Shipment != nil && o.Shipment.Carrier == "" {
		o.Shipment = *p.Shipment
	}
	if p.Protection != nil && !o.Protection.Used {
		o.Protection.Used = p.Protection.Used
		o.Protection.VerifiedAt = p.Protection.VerifiedAt
	}
	if p.DisputeReason != nil {
		o.DisputeReason = *p.DisputeReason
	}
	setOnce(&o.Timeline.PaidAt, p.Timeline.PaidAt)
	setOnce(&o.Timeline.EscrowAt, p.Timeline.EscrowAt)
	setOnce(&o.Timeline.ShippedAt, p.Timeline.ShippedAt)
	setOnce(&o.Timeline.HandedOverAt, p.Timeline.HandedOverAt)
	setOnce(&o.Timeline.DeliveredAt, p.Timeline.DeliveredAt)
	setOnce(&o.Timeline.AcceptedAt, p.Timeline.AcceptedAt)
	setOnce(&o.Timeline.ReleasedAt, p.Timeline.ReleasedAt)
	setOnce(&o.Timeline.DisputedAt, p.Timeline.DisputedAt)
	setOnce(&o.Timeline.RefundedAt, p.Timeline.RefundedAt)
	return o
}

func setOnce(dst **time.Time, v *time.Time) {
	if *dst == nil && v != nil {
		t := *v
		*dst = &t
	}
}

// Role selects which side of the orders a user is listed on.
type Role string

const (
	RoleBuying  Role = "buying"
	RoleSelling Role = "selling"
	RoleAll     Role = "all"
)

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts a new order. It fails with ErrLiveOrderExists when the
	// buyer already has a live order for the listing.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// FindLive returns the buyer's live order for the listing, or nil.
	FindLive(ctx context.Context, listingID, buyerID string) (*Order, error)
	// ConditionalUpdate applies p only if the stored order still has the
	// expected status and version, returning the updated order. A lost race
	// yields ErrConflict.
	ConditionalUpdate(ctx context.Context, id string, expected Status, version int64, p Patch) (*Order, error)
	ListByUser(ctx context.Context, userID string, role Role) ([]Order, error)
}

// Store opens the transaction boundary shared by order, listing and payout
// writes. Repositories called with the context passed to fn take part in
// the transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
