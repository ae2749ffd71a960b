// Package notify defines the user notifications emitted by order
// transitions. Delivery is best effort: a failed notification never rolls
// back an order change.
package notify

import (
	"context"
	"time"
)

// Event names an order occurrence worth telling a user about.
type Event string

const (
	EventOrderPaid       Event = "ORDER_PAID"
	EventOrderShipped    Event = "ORDER_SHIPPED"
	EventOrderHandedOver Event = "ORDER_HANDED_OVER"
	EventOrderDelivered  Event = "ORDER_DELIVERED"
	EventFundsReleased   Event = "FUNDS_RELEASED"
	EventOrderDisputed   Event = "ORDER_DISPUTED"
	EventOrderRefunded   Event = "ORDER_REFUNDED"
)

// Notification is a message addressed to one user.
type Notification struct {
	ID        string
	UserID    string
	OrderID   string
	Event     Event
	Title     string
	Message   string
	CreatedAt time.Time
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Discard is a Notifier that drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) error { return nil }

// Inbox lists stored notifications.
type Inbox interface {
	// ListForUser returns up to limit notifications for userID, newest
	// first.
	ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error)
}
