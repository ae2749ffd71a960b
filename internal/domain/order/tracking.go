package order

import (
	"context"
	"strings"
)

// TrackingKey identifies a carrier shipment.
type TrackingKey struct {
	Carrier        string
	TrackingNumber string
}

// NewTrackingKey normalizes carrier and tracking number the way MarkShipped
// stores them.
func NewTrackingKey(carrier, trackingNumber string) TrackingKey {
	return TrackingKey{
		Carrier:        strings.ToLower(strings.TrimSpace(carrier)),
		TrackingNumber: strings.TrimSpace(trackingNumber),
	}
}

func (k TrackingKey) String() string {
	return k.Carrier + "," + k.TrackingNumber
}

// TrackingIndex looks up orders that are in transit with a carrier.
type TrackingIndex interface {
	// ShippedTracking returns the keys of every SHIPPED order that has a
	// tracking number.
	ShippedTracking(ctx context.Context) ([]TrackingKey, error)
	// FindShippedByTracking returns the SHIPPED orders sent under k.
	FindShippedByTracking(ctx context.Context, k TrackingKey) ([]Order, error)
}
