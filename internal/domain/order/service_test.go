package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/listing"
	"github.com/xenking/passproduct-escrow/internal/domain/notify"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
	"github.com/xenking/passproduct-escrow/internal/domain/payment"
	"github.com/xenking/passproduct-escrow/internal/payment/simulated"
	"github.com/xenking/passproduct-escrow/internal/storage/memory"
)

var (
	buyer    = auth.User("buyer-1")
	seller   = auth.User("seller-1")
	stranger = auth.User("stranger")
	tracking = auth.System("tracking-feed")
	ops      = auth.System("ops")
)

type env struct {
	ctx      context.Context
	store    *memory.Store
	payments *simulated.Processor
	svc      *order.Service
}

func newEnv(t *testing.T, opts ...order.Option) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	store.Listings().Put(ctx, listing.Listing{
		ID:              "listing-1",
		SellerID:        seller.UserID,
		Title:           "Vintage camera",
		Price:           decimal.RequireFromString("200"),
		ShippingEnabled: true,
		ShippingCost:    decimal.RequireFromString("10"),
		Status:          listing.StatusPublished,
	})
	store.Listings().Put(ctx, listing.Listing{
		ID:       "listing-pickup",
		SellerID: seller.UserID,
		Title:    "Bike",
		Price:    decimal.RequireFromString("80"),
		Status:   listing.StatusPublished,
	})

	payments := simulated.New()
	svc := order.NewService(
		store,
		store.Orders(),
		store.Listings(),
		payments,
		store.Payouts(),
		store.Notifications(),
		append([]order.Option{order.WithPaymentTimeout(time.Second)}, opts...)...,
	)
	return &env{ctx: ctx, store: store, payments: payments, svc: svc}
}

func (e *env) listingStatus(t *testing.T, id string) listing.Status {
	t.Helper()
	l, err := e.store.Listings().Get(e.ctx, id)
	require.NoError(t, err)
	return l.Status
}

func (e *env) stored(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := e.store.Orders().Get(e.ctx, id)
	require.NoError(t, err)
	return o
}

// checkout creates an order and confirms its payment.
func (e *env) checkout(t *testing.T, listingID string) *order.Order {
	t.Helper()
	res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: listingID, HasProtection: true})
	require.NoError(t, err)
	require.True(t, e.payments.SetStatus(res.Order.PaymentIntentID, payment.IntentSucceeded))
	o, err := e.svc.ConfirmPayment(e.ctx, buyer, res.Order.ID, res.Order.PaymentIntentID)
	require.NoError(t, err)
	return o
}

func (e *env) delivered(t *testing.T) *order.Order {
	t.Helper()
	o := e.checkout(t, "listing-1")
	_, err := e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "seur", TrackingNumber: "TRK1"})
	require.NoError(t, err)
	o, err = e.svc.MarkDelivered(e.ctx, buyer, o.ID)
	require.NoError(t, err)
	return o
}

func TestService_EndToEnd(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{
		ListingID:       "listing-1",
		HasProtection:   true,
		ShippingAddress: " Calle Mayor 1, Madrid ",
	})
	require.NoError(t, err)
	o := res.Order
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.NotEmpty(t, res.ClientSecret)
	assert.False(t, res.Resumed)
	assert.Empty(t, o.Protection.Code, "buyer must never read the code")
	assert.Equal(t, "Calle Mayor 1, Madrid", o.ShippingAddress)
	assert.False(t, o.IsLocalPickup)

	assert.Equal(t, "10.00", o.Fees.FeeMarketplace.StringFixed(2))
	assert.Equal(t, "4.00", o.Fees.FeeProtection.StringFixed(2))
	assert.Equal(t, "214.00", o.Fees.Total.StringFixed(2))
	assert.Equal(t, "190.00", o.Fees.SellerPayout.StringFixed(2))

	req, ok := e.payments.Request(o.PaymentIntentID)
	require.True(t, ok)
	assert.Equal(t, int64(21400), req.AmountMinor)
	assert.Equal(t, "eur", req.Currency)
	assert.Equal(t, o.ID, req.Metadata["orderId"])

	stored := e.stored(t, o.ID)
	require.NotEmpty(t, stored.Protection.Code)
	code := stored.Protection.Code

	// Seller cannot see the code before escrow.
	view, err := e.svc.GetOrder(e.ctx, seller, o.ID)
	require.NoError(t, err)
	assert.Empty(t, view.Protection.Code)

	require.True(t, e.payments.SetStatus(o.PaymentIntentID, payment.IntentSucceeded))
	o, err = e.svc.ConfirmPayment(e.ctx, buyer, o.ID, o.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusEscrowHold, o.Status)
	assert.NotNil(t, o.Timeline.PaidAt)
	assert.NotNil(t, o.Timeline.EscrowAt)
	assert.Equal(t, listing.StatusReserved, e.listingStatus(t, "listing-1"))

	view, err = e.svc.GetOrder(e.ctx, seller, o.ID)
	require.NoError(t, err)
	assert.Equal(t, code, view.Protection.Code)

	o, err = e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "seur", TrackingNumber: " 123ABC "})
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, o.Status)
	assert.Equal(t, order.Shipment{Carrier: "seur", TrackingNumber: "123ABC"}, o.Shipment)
	assert.NotNil(t, o.Timeline.ShippedAt)

	o, err = e.svc.MarkDelivered(e.ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, o.Status)

	o, err = e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, "  "+code+" ")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, o.Status)
	assert.True(t, o.Protection.Used)
	assert.NotNil(t, o.Protection.VerifiedAt)

	o, err = e.svc.AcceptAndRelease(e.ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReleased, o.Status)
	assert.NotNil(t, o.Timeline.AcceptedAt)
	assert.NotNil(t, o.Timeline.ReleasedAt)
	assert.Equal(t, listing.StatusSold, e.listingStatus(t, "listing-1"))

	payout, ok := e.store.Payouts().ForOrder(e.ctx, o.ID)
	require.True(t, ok)
	assert.Equal(t, seller.UserID, payout.SellerID)
	assert.Equal(t, "190.00", payout.Amount.StringFixed(2))

	// Financial terms never change after creation.
	final := e.stored(t, o.ID)
	assert.True(t, final.Fees.Total.Equal(decimal.RequireFromString("214")))
	assert.True(t, final.Fees.SellerPayout.Add(final.Fees.FeeMarketplace).Equal(final.Fees.Amount))

	events := func(userID string) []notify.Event {
		var out []notify.Event
		for _, n := range e.store.Notifications().ForUser(e.ctx, userID) {
			out = append(out, n.Event)
		}
		return out
	}
	assert.Equal(t, []notify.Event{notify.EventOrderPaid, notify.EventOrderDelivered, notify.EventFundsReleased}, events(seller.UserID))
	assert.Equal(t, []notify.Event{notify.EventOrderShipped}, events(buyer.UserID))
}

func TestService_CreateOrder(t *testing.T) {
	t.Run("seller buying own listing", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateOrder(e.ctx, seller, order.CreateRequest{ListingID: "listing-1"})
		require.ErrorIs(t, err, order.ErrForbidden)
	})

	t.Run("system actor", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateOrder(e.ctx, ops, order.CreateRequest{ListingID: "listing-1"})
		require.ErrorIs(t, err, order.ErrForbidden)
	})

	t.Run("missing listing", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "nope"})
		require.ErrorIs(t, err, listing.ErrNotFound)
	})

	t.Run("empty listing id", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{})
		require.ErrorIs(t, err, order.ErrValidation)
	})

	t.Run("listing not published", func(t *testing.T) {
		e := newEnv(t)
		e.store.Listings().Put(e.ctx, listing.Listing{
			ID: "draft", SellerID: seller.UserID, Price: decimal.RequireFromString("5"), Status: listing.StatusDraft,
		})
		_, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "draft"})
		require.ErrorIs(t, err, order.ErrListingUnavailable)
	})

	t.Run("abandoned checkout is resumed", func(t *testing.T) {
		e := newEnv(t)
		first, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1", HasProtection: true})
		require.NoError(t, err)

		second, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1", HasProtection: true})
		require.NoError(t, err)
		assert.True(t, second.Resumed)
		assert.Equal(t, first.Order.ID, second.Order.ID)
		assert.Equal(t, first.ClientSecret, second.ClientSecret)
	})

	t.Run("paid order blocks a second checkout", func(t *testing.T) {
		e := newEnv(t)
		o := e.checkout(t, "listing-1")

		_, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.ErrorIs(t, err, order.ErrAlreadyExists)
		var ae *order.AlreadyExistsError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, o.ID, ae.OrderID)
	})

	t.Run("local pickup charges no shipping", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-pickup"})
		require.NoError(t, err)
		assert.True(t, res.Order.IsLocalPickup)
		assert.True(t, res.Order.Fees.Shipping.IsZero())
		assert.Equal(t, "80.00", res.Order.Fees.Total.StringFixed(2))
	})

	t.Run("processor failure stores nothing", func(t *testing.T) {
		e := newEnv(t)
		svc := order.NewService(e.store, e.store.Orders(), e.store.Listings(), failingProcessor{},
			e.store.Payouts(), nil)
		_, err := svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.ErrorIs(t, err, order.ErrUpstreamPayment)

		live, err := e.store.Orders().FindLive(e.ctx, "listing-1", buyer.UserID)
		require.NoError(t, err)
		assert.Nil(t, live)
	})
}

type failingProcessor struct{}

func (failingProcessor) CreateIntent(context.Context, payment.IntentRequest) (*payment.Intent, error) {
	return nil, errors.New("processor down")
}

func (failingProcessor) GetIntent(context.Context, string) (*payment.Intent, error) {
	return nil, errors.New("processor down")
}

// slowProcessor blocks until the caller's deadline.
type slowProcessor struct{ *simulated.Processor }

func (slowProcessor) GetIntent(ctx context.Context, _ string) (*payment.Intent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// overchargingProcessor reports every intent one cent above what was
// requested.
type overchargingProcessor struct{ *simulated.Processor }

func (p overchargingProcessor) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	in, err := p.Processor.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	in.AmountMinor++
	return in, nil
}

func TestService_ConfirmPayment(t *testing.T) {
	t.Run("pending intent leaves order created", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.NoError(t, err)

		_, err = e.svc.ConfirmPayment(e.ctx, buyer, res.Order.ID, res.Order.PaymentIntentID)
		require.ErrorIs(t, err, order.ErrUpstreamPayment)
		var pe *order.PaymentError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "pending", pe.Status)

		assert.Equal(t, order.StatusCreated, e.stored(t, res.Order.ID).Status)
		assert.Equal(t, listing.StatusPublished, e.listingStatus(t, "listing-1"))
	})

	t.Run("processor timeout", func(t *testing.T) {
		e := newEnv(t)
		svc := order.NewService(e.store, e.store.Orders(), e.store.Listings(), slowProcessor{e.payments},
			e.store.Payouts(), nil, order.WithPaymentTimeout(10*time.Millisecond))
		res, err := svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.NoError(t, err)

		_, err = svc.ConfirmPayment(e.ctx, buyer, res.Order.ID, "")
		require.ErrorIs(t, err, order.ErrUpstreamPayment)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, order.StatusCreated, e.stored(t, res.Order.ID).Status)
	})

	t.Run("foreign intent id", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.NoError(t, err)
		_, err = e.svc.ConfirmPayment(e.ctx, buyer, res.Order.ID, "pi_other")
		require.ErrorIs(t, err, order.ErrValidation)
	})

	t.Run("listing taken meanwhile", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.NoError(t, err)
		require.NoError(t, e.store.Listings().ConditionalUpdateStatus(e.ctx, "listing-1",
			listing.StatusPublished, listing.StatusReserved))
		e.payments.SetStatus(res.Order.PaymentIntentID, payment.IntentSucceeded)

		core, logs := observer.New(zap.WarnLevel)
		ctx := zctx.Base(e.ctx, zap.New(core))

		_, err = e.svc.ConfirmPayment(ctx, buyer, res.Order.ID, "")
		require.ErrorIs(t, err, order.ErrListingUnavailable)
		require.ErrorIs(t, err, order.ErrInvalidTransition)
		assert.Equal(t, order.StatusCreated, e.stored(t, res.Order.ID).Status)

		// The captured charge must be traceable for a manual refund.
		entries := logs.FilterMessage("Payment captured for unavailable listing").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, res.Order.PaymentIntentID, fields["payment_intent_id"])
		assert.Equal(t, res.Order.ID, fields["order_id"])
		assert.Equal(t, int64(21000), fields["amount_minor"])
	})

	t.Run("amount differs from order total", func(t *testing.T) {
		e := newEnv(t)
		svc := order.NewService(e.store, e.store.Orders(), e.store.Listings(), overchargingProcessor{e.payments},
			e.store.Payouts(), nil)
		res, err := svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1", HasProtection: true})
		require.NoError(t, err)
		e.payments.SetStatus(res.Order.PaymentIntentID, payment.IntentSucceeded)

		_, err = svc.ConfirmPayment(e.ctx, buyer, res.Order.ID, "")
		require.ErrorIs(t, err, order.ErrUpstreamPayment)
		var pe *order.PaymentError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, res.Order.PaymentIntentID, pe.IntentID)
		assert.Contains(t, pe.Error(), "21401")

		assert.Equal(t, order.StatusCreated, e.stored(t, res.Order.ID).Status)
		assert.Equal(t, listing.StatusPublished, e.listingStatus(t, "listing-1"))
	})

	t.Run("system confirmation", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.NoError(t, err)
		e.payments.SetStatus(res.Order.PaymentIntentID, payment.IntentSucceeded)

		o, err := e.svc.ConfirmPayment(e.ctx, ops, res.Order.ID, "")
		require.NoError(t, err)
		assert.Equal(t, order.StatusEscrowHold, o.Status)
	})

	t.Run("seller cannot confirm", func(t *testing.T) {
		e := newEnv(t)
		res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
		require.NoError(t, err)
		_, err = e.svc.ConfirmPayment(e.ctx, seller, res.Order.ID, "")
		require.ErrorIs(t, err, order.ErrForbidden)
	})

	t.Run("twice", func(t *testing.T) {
		e := newEnv(t)
		o := e.checkout(t, "listing-1")
		_, err := e.svc.ConfirmPayment(e.ctx, buyer, o.ID, "")
		require.ErrorIs(t, err, order.ErrInvalidTransition)
	})
}

func TestService_Forbidden(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t, "listing-1")

	_, err := e.svc.MarkShipped(e.ctx, buyer, o.ID, order.ShipRequest{Carrier: "seur"})
	require.ErrorIs(t, err, order.ErrForbidden)
	require.NotErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, order.StatusEscrowHold, e.stored(t, o.ID).Status)

	_, err = e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "seur"})
	require.NoError(t, err)
	_, err = e.svc.MarkDelivered(e.ctx, seller, o.ID)
	require.ErrorIs(t, err, order.ErrForbidden)
	_, err = e.svc.MarkDelivered(e.ctx, tracking, o.ID)
	require.NoError(t, err)

	_, err = e.svc.VerifyProtectionCode(e.ctx, seller, o.ID, e.stored(t, o.ID).Protection.Code)
	require.ErrorIs(t, err, order.ErrForbidden)
	_, err = e.svc.VerifyProtectionCode(e.ctx, seller, o.ID, "")
	require.ErrorIs(t, err, order.ErrForbidden)
	require.NotErrorIs(t, err, order.ErrValidation)
	_, err = e.svc.AcceptAndRelease(e.ctx, seller, o.ID)
	require.ErrorIs(t, err, order.ErrForbidden)
	_, err = e.svc.AcceptAndRelease(e.ctx, tracking, o.ID)
	require.ErrorIs(t, err, order.ErrForbidden)
	_, err = e.svc.GetOrder(e.ctx, stranger, o.ID)
	require.ErrorIs(t, err, order.ErrForbidden)
	_, err = e.svc.Refund(e.ctx, buyer, o.ID)
	require.ErrorIs(t, err, order.ErrForbidden)

	assert.Equal(t, order.StatusDelivered, e.stored(t, o.ID).Status)
}

func TestService_InvalidTransitionsLeaveState(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
	require.NoError(t, err)
	id := res.Order.ID

	calls := map[string]func() error{
		"ship": func() error {
			_, err := e.svc.MarkShipped(e.ctx, seller, id, order.ShipRequest{Carrier: "seur"})
			return err
		},
		"deliver": func() error { _, err := e.svc.MarkDelivered(e.ctx, buyer, id); return err },
		"verify":  func() error { _, err := e.svc.VerifyProtectionCode(e.ctx, buyer, id, "PP-AAAAAA"); return err },
		"accept":  func() error { _, err := e.svc.AcceptAndRelease(e.ctx, buyer, id); return err },
		"dispute": func() error { _, err := e.svc.OpenDispute(e.ctx, buyer, id, "broken"); return err },
		"refund":  func() error { _, err := e.svc.Refund(e.ctx, ops, id); return err },
	}
	before := e.stored(t, id)
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.ErrorIs(t, err, order.ErrInvalidTransition)
			var ite *order.InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			assert.Equal(t, order.StatusCreated, ite.Current)
			assert.NotEmpty(t, ite.Allowed)

			after := e.stored(t, id)
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.Version, after.Version)
		})
	}
}

func TestService_MarkShipped_Validation(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t, "listing-1")

	for _, carrier := range []string{"", "   ", "pigeon"} {
		_, err := e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: carrier})
		require.ErrorIs(t, err, order.ErrValidation, carrier)
	}
	assert.Equal(t, order.StatusEscrowHold, e.stored(t, o.ID).Status)

	shipped, err := e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: " Correos "})
	require.NoError(t, err)
	assert.Equal(t, "correos", shipped.Shipment.Carrier)
	assert.Empty(t, shipped.Shipment.TrackingNumber)

	// Shipment data is written once.
	_, err = e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "dhl"})
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, "correos", e.stored(t, o.ID).Shipment.Carrier)
}

func TestService_ConcurrentMarkShipped(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t, "listing-1")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "seur"})
		}()
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, order.ErrInvalidTransition)
		var ite *order.InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, order.StatusShipped, ite.Current)
	}
	assert.Equal(t, 1, succeeded)

	stored := e.stored(t, o.ID)
	assert.Equal(t, order.StatusShipped, stored.Status)
	assert.Equal(t, o.Version+1, stored.Version)
}

func TestService_VerifyProtectionCode(t *testing.T) {
	e := newEnv(t)
	o := e.delivered(t)
	code := e.stored(t, o.ID).Protection.Code

	_, err := e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, "PP-WRONG1")
	require.ErrorIs(t, err, order.ErrCodeMismatch)
	assert.False(t, e.stored(t, o.ID).Protection.Used)

	_, err = e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, "")
	require.ErrorIs(t, err, order.ErrValidation)

	first, err := e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, code)
	require.NoError(t, err)
	require.True(t, first.Protection.Used)
	version := e.stored(t, o.ID).Version

	again, err := e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, " "+code+" ")
	require.NoError(t, err)
	assert.True(t, again.Protection.Used)
	assert.Equal(t, first.Protection.VerifiedAt, again.Protection.VerifiedAt)
	assert.Equal(t, version, e.stored(t, o.ID).Version, "idempotent verify must not write")

	_, err = e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, "PP-OTHER2")
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	require.NotErrorIs(t, err, order.ErrCodeMismatch)
}

func TestService_ConcurrentVerify(t *testing.T) {
	e := newEnv(t)
	o := e.delivered(t)
	code := e.stored(t, o.ID).Protection.Code

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.svc.VerifyProtectionCode(e.ctx, buyer, o.ID, code)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored := e.stored(t, o.ID)
	assert.True(t, stored.Protection.Used)
	assert.Equal(t, o.Version+1, stored.Version, "exactly one write")
}

func TestService_AcceptWithoutCode(t *testing.T) {
	e := newEnv(t)
	o := e.delivered(t)

	released, err := e.svc.AcceptAndRelease(e.ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReleased, released.Status)
	assert.False(t, released.Protection.Used)

	_, err = e.svc.AcceptAndRelease(e.ctx, buyer, o.ID)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
}

// conflictLedger fails every payout so the release transaction rolls back.
type conflictLedger struct{}

func (conflictLedger) RecordPayout(context.Context, *payment.Payout) error {
	return payment.ErrPayoutExists
}

func TestService_ReleaseIsAtomic(t *testing.T) {
	e := newEnv(t)
	o := e.delivered(t)

	svc := order.NewService(e.store, e.store.Orders(), e.store.Listings(), e.payments, conflictLedger{}, nil)
	_, err := svc.AcceptAndRelease(e.ctx, buyer, o.ID)
	require.ErrorIs(t, err, payment.ErrPayoutExists)

	assert.Equal(t, order.StatusDelivered, e.stored(t, o.ID).Status)
	assert.Equal(t, listing.StatusReserved, e.listingStatus(t, "listing-1"))
}

func TestService_LocalPickup(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t, "listing-pickup")

	_, err := e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "seur"})
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	o, err = e.svc.HandOver(e.ctx, seller, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusHandedOver, o.Status)
	assert.NotNil(t, o.Timeline.HandedOverAt)

	o, err = e.svc.MarkDelivered(e.ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, o.Status)

	// Shipping orders cannot be handed over.
	shipping := e.checkout(t, "listing-1")
	_, err = e.svc.HandOver(e.ctx, seller, shipping.ID)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestService_DisputeAndRefund(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t, "listing-1")

	_, err := e.svc.OpenDispute(e.ctx, buyer, o.ID, "  ")
	require.ErrorIs(t, err, order.ErrValidation)
	_, err = e.svc.OpenDispute(e.ctx, stranger, o.ID, "scam")
	require.ErrorIs(t, err, order.ErrForbidden)

	o, err = e.svc.OpenDispute(e.ctx, seller, o.ID, "buyer unreachable")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDisputed, o.Status)
	assert.Equal(t, "buyer unreachable", o.DisputeReason)
	assert.Equal(t, listing.StatusReserved, e.listingStatus(t, "listing-1"))

	notes := e.store.Notifications().ForUser(e.ctx, buyer.UserID)
	require.NotEmpty(t, notes)
	assert.Equal(t, notify.EventOrderDisputed, notes[len(notes)-1].Event)

	_, err = e.svc.MarkShipped(e.ctx, seller, o.ID, order.ShipRequest{Carrier: "seur"})
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	o, err = e.svc.Refund(e.ctx, ops, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.NotNil(t, o.Timeline.RefundedAt)
	assert.Equal(t, listing.StatusPublished, e.listingStatus(t, "listing-1"))

	// The listing is buyable again.
	res, err := e.svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
	require.NoError(t, err)
	assert.NotEqual(t, o.ID, res.Order.ID)
	assert.False(t, res.Resumed)
}

func TestService_ListOrders(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t, "listing-1")

	buying, err := e.svc.ListOrders(e.ctx, buyer, order.RoleBuying)
	require.NoError(t, err)
	require.Len(t, buying, 1)
	assert.Equal(t, o.ID, buying[0].ID)
	assert.Empty(t, buying[0].Protection.Code)

	selling, err := e.svc.ListOrders(e.ctx, seller, "")
	require.NoError(t, err)
	require.Len(t, selling, 1)
	assert.NotEmpty(t, selling[0].Protection.Code)

	none, err := e.svc.ListOrders(e.ctx, seller, order.RoleBuying)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.svc.ListOrders(e.ctx, seller, "lending")
	require.ErrorIs(t, err, order.ErrValidation)
	_, err = e.svc.ListOrders(e.ctx, ops, order.RoleAll)
	require.ErrorIs(t, err, order.ErrForbidden)
}

func TestService_NotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.MarkShipped(e.ctx, seller, "missing", order.ShipRequest{Carrier: "seur"})
	require.ErrorIs(t, err, order.ErrNotFound)
	_, err = e.svc.GetOrder(e.ctx, buyer, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

// failingNotifier rejects every notification.
type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, notify.Notification) error {
	return errors.New("smtp down")
}

func TestService_NotificationFailureDoesNotRollBack(t *testing.T) {
	e := newEnv(t)
	svc := order.NewService(e.store, e.store.Orders(), e.store.Listings(), e.payments,
		e.store.Payouts(), failingNotifier{})

	res, err := svc.CreateOrder(e.ctx, buyer, order.CreateRequest{ListingID: "listing-1"})
	require.NoError(t, err)
	e.payments.SetStatus(res.Order.PaymentIntentID, payment.IntentSucceeded)

	o, err := svc.ConfirmPayment(e.ctx, buyer, res.Order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusEscrowHold, o.Status)
}
