package memory

import (
	"context"

	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

// PayoutLedger implements payment.Ledger.
type PayoutLedger struct {
	s *Store
}

var _ payment.Ledger = (*PayoutLedger)(nil)

func (l *PayoutLedger) RecordPayout(ctx context.Context, p *payment.Payout) error {
	defer l.s.lock(ctx)()

	if _, ok := l.s.st.payouts[p.OrderID]; ok {
		return payment.ErrPayoutExists
	}
	l.s.st.payouts[p.OrderID] = *p
	return nil
}

// ForOrder returns the payout recorded for orderID.
func (l *PayoutLedger) ForOrder(ctx context.Context, orderID string) (payment.Payout, bool) {
	defer l.s.lock(ctx)()
	p, ok := l.s.st.payouts[orderID]
	return p, ok
}
