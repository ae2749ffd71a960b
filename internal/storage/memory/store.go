// Package memory provides in-process implementations of the escrow
// repositories. A Store serializes access and restores its previous state
// when a transaction fails, matching the atomicity the PostgreSQL store
// gives the order service.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/listing"
	"github.com/xenking/passproduct-escrow/internal/domain/notify"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

type txKey struct{}

type state struct {
	orders        map[string]order.Order
	listings      map[string]listing.Listing
	payouts       map[string]payment.Payout
	notifications []notify.Notification
	apiKeys       map[string]auth.APIKeyInfo
}

func (s state) clone() state {
	return state{
		orders:        maps.Clone(s.orders),
		listings:      maps.Clone(s.listings),
		payouts:       maps.Clone(s.payouts),
		notifications: append([]notify.Notification(nil), s.notifications...),
		apiKeys:       maps.Clone(s.apiKeys),
	}
}

// Store holds all entities in memory.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time
}

var _ order.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		st: state{
			orders:   make(map[string]order.Order),
			listings: make(map[string]listing.Listing),
			payouts:  make(map[string]payment.Payout),
			apiKeys:  make(map[string]auth.APIKeyInfo),
		},
		now: time.Now,
	}
}

// WithTx runs fn with exclusive access to the store. If fn returns an
// error every change it made is discarded. Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(*Store)
	return v == s
}

// lock takes the store lock unless ctx already belongs to a transaction
// on s.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Listings returns the listing repository.
func (s *Store) Listings() *ListingRepository { return &ListingRepository{s: s} }

// Payouts returns the payout ledger.
func (s *Store) Payouts() *PayoutLedger { return &PayoutLedger{s: s} }

// Notifications returns the notification inbox.
func (s *Store) Notifications() *NotificationInbox { return &NotificationInbox{s: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{s: s} }
