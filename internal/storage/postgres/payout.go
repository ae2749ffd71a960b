package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

const insertPayoutSQL = `INSERT INTO payouts (id, order_id, seller_id, amount, currency, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

var _ payment.Ledger = (*PayoutLedger)(nil)

// PayoutLedger implements payment.Ledger backed by PostgreSQL.
type PayoutLedger struct {
	pool *pgxpool.Pool
}

// NewPayoutLedger returns a PayoutLedger that uses the given pool.
func NewPayoutLedger(pool *pgxpool.Pool) *PayoutLedger {
	return &PayoutLedger{pool: pool}
}

// RecordPayout inserts p. The unique order_id column makes a second payout
// for the same order fail with payment.ErrPayoutExists.
func (l *PayoutLedger) RecordPayout(ctx context.Context, p *payment.Payout) error {
	_, err := conn(ctx, l.pool).Exec(ctx, insertPayoutSQL,
		p.ID, p.OrderID, p.SellerID, p.Amount, p.Currency, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "payouts_order_id_key") {
			return payment.ErrPayoutExists
		}
		return fmt.Errorf("recording payout for order %q: %w", p.OrderID, err)
	}
	return nil
}
