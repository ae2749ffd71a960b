package order

import (
	"github.com/xenking/passproduct-escrow/internal/domain/auth"
)

// CanPerform reports whether actor may apply t to o. It holds no state and
// is consulted before every mutation. For TransitionCreate, o carries the
// prospective buyer and seller.
func CanPerform(actor auth.Actor, o *Order, t Transition) bool {
	if o == nil {
		return false
	}
	buyer := actor.Is(o.BuyerID)
	seller := actor.Is(o.SellerID)

	switch t {
	case TransitionCreate:
		return buyer && !seller
	case TransitionConfirmPayment, TransitionHoldEscrow, TransitionDeliver:
		return buyer || actor.IsSystem()
	case TransitionShip, TransitionHandOver:
		return seller
	case TransitionVerifyCode, TransitionAccept, TransitionRelease:
		return buyer
	case TransitionDispute:
		return buyer || seller
	case TransitionRefund:
		return actor.IsSystem()
	default:
		return false
	}
}

// CanView reports whether actor may read o.
func CanView(actor auth.Actor, o *Order) bool {
	return actor.IsSystem() || actor.Is(o.BuyerID) || actor.Is(o.SellerID)
}

// CanSeeProtectionCode reports whether actor may read o's protection code.
// Only the seller can, and only once funds are held in escrow. The buyer
// types the code in and never reads it.
func CanSeeProtectionCode(actor auth.Actor, o *Order) bool {
	if !actor.Is(o.SellerID) || actor.Is(o.BuyerID) {
		return false
	}
	switch o.Status {
	case StatusCreated, StatusPaid:
		return false
	}
	return true
}

// Redact returns a copy of o with the protection code cleared unless actor
// may see it.
func Redact(actor auth.Actor, o *Order) *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if !CanSeeProtectionCode(actor, o) {
		cp.Protection.Code = ""
	}
	return &cp
}
