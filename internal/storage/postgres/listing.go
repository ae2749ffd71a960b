package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/passproduct-escrow/internal/domain/listing"
)

const getListingSQL = `SELECT id, seller_id, title, price, shipping_enabled, shipping_cost, status, updated_at
	FROM listings WHERE id = $1`

const updateListingStatusSQL = `UPDATE listings SET status = $3, updated_at = now()
	WHERE id = $1 AND status = $2`

const upsertListingSQL = `INSERT INTO listings (id, seller_id, title, price, shipping_enabled, shipping_cost, status)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		price = EXCLUDED.price,
		shipping_enabled = EXCLUDED.shipping_enabled,
		shipping_cost = EXCLUDED.shipping_cost,
		status = EXCLUDED.status,
		updated_at = now()`

var _ listing.Repository = (*ListingRepository)(nil)

// ListingRepository implements listing.Repository backed by PostgreSQL.
type ListingRepository struct {
	pool *pgxpool.Pool
}

// NewListingRepository returns a ListingRepository that uses the given pool.
func NewListingRepository(pool *pgxpool.Pool) *ListingRepository {
	return &ListingRepository{pool: pool}
}

func (r *ListingRepository) Get(ctx context.Context, id string) (*listing.Listing, error) {
	var (
		l      listing.Listing
		status string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, getListingSQL, id).Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Price, &l.ShippingEnabled, &l.ShippingCost, &status, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, listing.ErrNotFound
		}
		return nil, fmt.Errorf("getting listing %q: %w", id, err)
	}
	l.Status = listing.Status(status)
	return &l, nil
}

func (r *ListingRepository) ConditionalUpdateStatus(ctx context.Context, id string, expected, next listing.Status) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateListingStatusSQL, id, string(expected), string(next))
	if err != nil {
		return fmt.Errorf("updating listing %q status: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return listing.ErrStatusConflict
}

// Upsert inserts l or overwrites its mutable fields.
func (r *ListingRepository) Upsert(ctx context.Context, l *listing.Listing) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertListingSQL,
		l.ID, l.SellerID, l.Title, l.Price, l.ShippingEnabled, l.ShippingCost, string(l.Status),
	)
	if err != nil {
		return fmt.Errorf("upserting listing %q: %w", l.ID, err)
	}
	return nil
}
