package memory

import (
	"context"

	"github.com/xenking/passproduct-escrow/internal/domain/listing"
)

// ListingRepository implements listing.Repository.
type ListingRepository struct {
	s *Store
}

var _ listing.Repository = (*ListingRepository)(nil)

// Put inserts or replaces a listing.
func (r *ListingRepository) Put(ctx context.Context, l listing.Listing) {
	defer r.s.lock(ctx)()
	r.s.st.listings[l.ID] = l
}

func (r *ListingRepository) Get(ctx context.Context, id string) (*listing.Listing, error) {
	defer r.s.lock(ctx)()

	l, ok := r.s.st.listings[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return &l, nil
}

func (r *ListingRepository) ConditionalUpdateStatus(ctx context.Context, id string, expected, next listing.Status) error {
	defer r.s.lock(ctx)()

	l, ok := r.s.st.listings[id]
	if !ok {
		return listing.ErrNotFound
	}
	if l.Status != expected {
		return listing.ErrStatusConflict
	}
	l.Status = next
	l.UpdatedAt = r.s.now()
	r.s.st.listings[id] = l
	return nil
}
