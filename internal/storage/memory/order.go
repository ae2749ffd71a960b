package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	s *Store
}

var (
	_ order.Repository    = (*OrderRepository)(nil)
	_ order.TrackingIndex = (*OrderRepository)(nil)
)

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.orders[o.ID]; ok {
		return errors.Errorf("order %s already stored", o.ID)
	}
	if o.Status.Live() {
		for _, other := range r.s.st.orders {
			if other.ListingID == o.ListingID && other.BuyerID == o.BuyerID && other.Status.Live() {
				return order.ErrLiveOrderExists
			}
		}
	}
	r.s.st.orders[o.ID] = *o
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	defer r.s.lock(ctx)()

	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (r *OrderRepository) FindLive(ctx context.Context, listingID, buyerID string) (*order.Order, error) {
	defer r.s.lock(ctx)()

	for _, o := range r.s.st.orders {
		if o.ListingID == listingID && o.BuyerID == buyerID && o.Status.Live() {
			return &o, nil
		}
	}
	return nil, nil
}

func (r *OrderRepository) ConditionalUpdate(ctx context.Context, id string, expected order.Status, version int64, p order.Patch) (*order.Order, error) {
	defer r.s.lock(ctx)()

	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != expected || o.Version != version {
		return nil, order.ErrConflict
	}
	u := p.Apply(o)
	u.Version++
	u.UpdatedAt = r.s.now()
	r.s.st.orders[id] = u
	return &u, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, role order.Role) ([]order.Order, error) {
	defer r.s.lock(ctx)()

	var out []order.Order
	for _, o := range r.s.st.orders {
		buying := o.BuyerID == userID
		selling := o.SellerID == userID
		switch {
		case role == order.RoleBuying && buying,
			role == order.RoleSelling && selling,
			role == order.RoleAll && (buying || selling):
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *OrderRepository) ShippedTracking(ctx context.Context) ([]order.TrackingKey, error) {
	defer r.s.lock(ctx)()

	var keys []order.TrackingKey
	for _, o := range r.s.st.orders {
		if o.Status == order.StatusShipped && o.Shipment.TrackingNumber != "" {
			keys = append(keys, order.TrackingKey{Carrier: o.Shipment.Carrier, TrackingNumber: o.Shipment.TrackingNumber})
		}
	}
	return keys, nil
}

func (r *OrderRepository) FindShippedByTracking(ctx context.Context, k order.TrackingKey) ([]order.Order, error) {
	defer r.s.lock(ctx)()

	var out []order.Order
	for _, o := range r.s.st.orders {
		if o.Status == order.StatusShipped && o.Shipment.Carrier == k.Carrier && o.Shipment.TrackingNumber == k.TrackingNumber {
			out = append(out, o)
		}
	}
	return out, nil
}
