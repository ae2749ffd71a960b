// Package listing holds the marketplace listing a buyer purchases and the
// projection that keeps its status in step with the order lifecycle.
package listing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusReserved  Status = "RESERVED"
	StatusSold      Status = "SOLD"
)

var (
	// ErrNotFound is returned when a listing does not exist.
	ErrNotFound = errors.New("listing not found")
	// ErrStatusConflict is returned by ConditionalUpdateStatus when the
	// listing is not in the expected status.
	ErrStatusConflict = errors.New("listing status conflict")
)

// Listing is an item offered for sale by a seller.
type Listing struct {
	ID              string
	SellerID        string
	Title           string
	Price           decimal.Decimal
	ShippingEnabled bool
	ShippingCost    decimal.Decimal
	Status          Status
	UpdatedAt       time.Time
}

// Repository defines persistence operations for listings.
type Repository interface {
	Get(ctx context.Context, id string) (*Listing, error)
	// ConditionalUpdateStatus moves the listing from expected to next, failing
	// with ErrStatusConflict when the stored status differs from expected.
	ConditionalUpdateStatus(ctx context.Context, id string, expected, next Status) error
}
