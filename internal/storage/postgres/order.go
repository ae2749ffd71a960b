package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

const orderColumns = `id, listing_id, buyer_id, seller_id,
	amount, shipping_amount, fee_marketplace, fee_protection, total, seller_payout, has_protection,
	status, protection_code, protection_code_used, protection_verified_at,
	carrier, tracking_number,
	paid_at, escrow_at, shipped_at, handed_over_at, delivered_at,
	accepted_at, released_at, disputed_at, refunded_at,
	payment_intent_id, payment_status, is_local_pickup, shipping_address, dispute_reason,
	version, created_at, updated_at`

const createOrderSQL = `INSERT INTO orders (
	id, listing_id, buyer_id, seller_id,
	amount, shipping_amount, fee_marketplace, fee_protection, total, seller_payout, has_protection,
	status, protection_code, payment_intent_id, payment_status,
	is_local_pickup, shipping_address, version, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

const getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

const findLiveOrderSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE listing_id = $1 AND buyer_id = $2 AND status IN ('CREATED', 'PAID', 'ESCROW_HOLD')`

// conditionalUpdateOrderSQL writes only if the row still has the expected
// status and version. Shipment, protection and timeline columns are write
// once: existing values always win over the patch.
const conditionalUpdateOrderSQL = `UPDATE orders SET
	status                 = $4,
	payment_status         = COALESCE($5, payment_status),
	tracking_number        = CASE WHEN carrier = '' THEN COALESCE($7, tracking_number) ELSE tracking_number END,
	carrier                = CASE WHEN carrier = '' THEN COALESCE($6, carrier) ELSE carrier END,
	protection_code_used   = protection_code_used OR COALESCE($8, FALSE),
	protection_verified_at = COALESCE(protection_verified_at, $9),
	dispute_reason         = COALESCE($10, dispute_reason),
	paid_at                = COALESCE(paid_at, $11),
	escrow_at              = COALESCE(escrow_at, $12),
	shipped_at             = COALESCE(shipped_at, $13),
	handed_over_at         = COALESCE(handed_over_at, $14),
	delivered_at           = COALESCE(delivered_at, $15),
	accepted_at            = COALESCE(accepted_at, $16),
	released_at            = COALESCE(released_at, $17),
	disputed_at            = COALESCE(disputed_at, $18),
	refunded_at            = COALESCE(refunded_at, $19),
	version                = version + 1,
	updated_at             = now()
WHERE id = $1 AND status = $2 AND version = $3
RETURNING ` + orderColumns

const orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

const listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE ($2 IN ('buying', 'all') AND buyer_id = $1)
	   OR ($2 IN ('selling', 'all') AND seller_id = $1)
	ORDER BY created_at DESC, id`

const shippedTrackingSQL = `SELECT carrier, tracking_number FROM orders
	WHERE status = 'SHIPPED' AND tracking_number <> ''`

const findShippedByTrackingSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE status = 'SHIPPED' AND carrier = $1 AND tracking_number = $2`

var (
	_ order.Repository    = (*OrderRepository)(nil)
	_ order.TrackingIndex = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new order. The partial unique index on live orders turns
// a concurrent second checkout into order.ErrLiveOrderExists.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	f := o.Fees
	_, err := conn(ctx, r.pool).Exec(ctx, createOrderSQL,
		o.ID, o.ListingID, o.BuyerID, o.SellerID,
		f.Amount, f.Shipping, f.FeeMarketplace, f.FeeProtection, f.Total, f.SellerPayout, o.HasProtection,
		string(o.Status), o.Protection.Code, o.PaymentIntentID, o.PaymentStatus,
		o.IsLocalPickup, o.ShippingAddress, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_one_live_per_buyer") {
			return order.ErrLiveOrderExists
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

func (r *OrderRepository) FindLive(ctx context.Context, listingID, buyerID string) (*order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findLiveOrderSQL, listingID, buyerID)
	if err != nil {
		return nil, fmt.Errorf("finding live order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding live order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ConditionalUpdate(ctx context.Context, id string, expected order.Status, version int64, p order.Patch) (*order.Order, error) {
	var carrier, tracking *string
	if p.Shipment != nil {
		carrier, tracking = &p.Shipment.Carrier, &p.Shipment.TrackingNumber
	}
	var (
		used       *bool
		verifiedAt *time.Time
	)
	if p.Protection != nil {
		used, verifiedAt = &p.Protection.Used, p.Protection.VerifiedAt
	}
	tl := p.Timeline

	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, conditionalUpdateOrderSQL,
		id, string(expected), version, string(p.Status),
		p.PaymentStatus, carrier, tracking, used, verifiedAt, p.DisputeReason,
		tl.PaidAt, tl.EscrowAt, tl.ShippedAt, tl.HandedOverAt, tl.DeliveredAt,
		tl.AcceptedAt, tl.ReleasedAt, tl.DisputedAt, tl.RefundedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}

	var exists bool
	if err := q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrConflict
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, role order.Role) ([]order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listOrdersByUserSQL, userID, string(role))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		o, err := scanOrder(row)
		if err != nil {
			return order.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return list, nil
}

// ShippedTracking returns the tracking keys of every order currently in
// transit with a carrier.
func (r *OrderRepository) ShippedTracking(ctx context.Context) ([]order.TrackingKey, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, shippedTrackingSQL)
	if err != nil {
		return nil, fmt.Errorf("listing shipped tracking numbers: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.TrackingKey, error) {
		var k order.TrackingKey
		err := row.Scan(&k.Carrier, &k.TrackingNumber)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing shipped tracking numbers: %w", err)
	}
	return keys, nil
}

// FindShippedByTracking returns the shipped orders sent under k.
func (r *OrderRepository) FindShippedByTracking(ctx context.Context, k order.TrackingKey) ([]order.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, findShippedByTrackingSQL, k.Carrier, k.TrackingNumber)
	if err != nil {
		return nil, fmt.Errorf("finding shipped orders: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("finding shipped orders: %w", err)
	}
	out := make([]order.Order, len(list))
	for i, o := range list {
		out[i] = *o
	}
	return out, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID,
		&o.Fees.Amount, &o.Fees.Shipping, &o.Fees.FeeMarketplace, &o.Fees.FeeProtection,
		&o.Fees.Total, &o.Fees.SellerPayout, &o.HasProtection,
		&status, &o.Protection.Code, &o.Protection.Used, &o.Protection.VerifiedAt,
		&o.Shipment.Carrier, &o.Shipment.TrackingNumber,
		&o.Timeline.PaidAt, &o.Timeline.EscrowAt, &o.Timeline.ShippedAt, &o.Timeline.HandedOverAt,
		&o.Timeline.DeliveredAt, &o.Timeline.AcceptedAt, &o.Timeline.ReleasedAt,
		&o.Timeline.DisputedAt, &o.Timeline.RefundedAt,
		&o.PaymentIntentID, &o.PaymentStatus, &o.IsLocalPickup, &o.ShippingAddress, &o.DisputeReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	return &o, nil
}
