package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
)

// Error kinds. Typed errors below match their kind through errors.Is.
var (
	ErrNotFound           = errors.New("order not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrValidation         = errors.New("validation failed")
	ErrAlreadyExists      = errors.New("live order already exists")
	ErrUpstreamPayment    = errors.New("payment processor error")
	ErrCodeMismatch       = errors.New("protection code mismatch")
	ErrListingUnavailable = errors.New("listing unavailable")

	// ErrConflict is returned by repositories when a conditional update
	// finds the order in a different status or version than expected.
	ErrConflict = errors.New("order update conflict")
	// ErrLiveOrderExists is returned by Repository.Create when the buyer
	// already holds a live order for the listing.
	ErrLiveOrderExists = errors.New("buyer has a live order for listing")
)

// ForbiddenError reports an actor that may not perform a transition.
type ForbiddenError struct {
	Actor      auth.Actor
	Transition Transition
	OrderID    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s %q may not %s order %s", e.Actor.Kind, e.Actor.UserID, e.Transition, e.OrderID)
}

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// InvalidTransitionError reports a transition attempted from a status that
// is not one of its sources.
type InvalidTransitionError struct {
	Transition Transition
	Current    Status
	Allowed    []Status
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	msg := fmt.Sprintf("cannot %s order in status %s (requires %s)",
		e.Transition, e.Current, strings.Join(allowed, " or "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// AlreadyExistsError reports the buyer's existing live order for a listing.
type AlreadyExistsError struct {
	OrderID string
	Status  Status
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("live order %s already exists in status %s", e.OrderID, e.Status)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// PaymentError reports a processor failure or a non-successful intent.
type PaymentError struct {
	IntentID string
	Status   string
	Err      error
}

func (e *PaymentError) Error() string {
	switch {
	case e.Err != nil && e.IntentID != "":
		return fmt.Sprintf("payment intent %s: %v", e.IntentID, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("payment: %v", e.Err)
	default:
		return fmt.Sprintf("payment intent %s is %s", e.IntentID, e.Status)
	}
}

func (e *PaymentError) Unwrap() error { return e.Err }

func (e *PaymentError) Is(target error) bool { return target == ErrUpstreamPayment }

// ListingUnavailableError reports a listing that cannot be bought or
// reserved in its current status. It also counts as an invalid transition.
type ListingUnavailableError struct {
	ListingID string
	Status    string
}

func (e *ListingUnavailableError) Error() string {
	return fmt.Sprintf("listing %s is %s", e.ListingID, e.Status)
}

func (e *ListingUnavailableError) Is(target error) bool {
	return target == ErrListingUnavailable || target == ErrInvalidTransition
}
