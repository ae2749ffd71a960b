package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/listing"
	"github.com/xenking/passproduct-escrow/internal/domain/notify"
	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

const instrumentationName = "github.com/xenking/passproduct-escrow/internal/domain/order"

// actionView is checked by GetOrder. It is not a lifecycle transition.
const actionView Transition = "view"

// CreateRequest holds the input for a checkout.
type CreateRequest struct {
	ListingID       string
	HasProtection   bool
	ShippingAddress string
}

// CheckoutResult is the outcome of CreateOrder.
type CheckoutResult struct {
	Order *Order
	// ClientSecret lets the buyer's client complete the payment intent.
	ClientSecret string
	// Resumed is true when an abandoned CREATED order was returned instead
	// of a new one.
	Resumed bool
}

// ShipRequest holds the carrier data for MarkShipped.
type ShipRequest struct {
	Carrier        string
	TrackingNumber string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides the protection code generator.
func WithCodeGenerator(g *CodeGenerator) Option {
	return func(s *Service) { s.codes = g }
}

// WithIDGenerator overrides the order and payout id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithCurrency sets the ISO currency code used for payment intents.
func WithCurrency(c string) Option {
	return func(s *Service) { s.currency = strings.ToLower(c) }
}

// WithPaymentTimeout bounds every call to the payment processor.
func WithPaymentTimeout(d time.Duration) Option {
	return func(s *Service) { s.paymentTimeout = d }
}

// WithTracerProvider sets the tracer provider for per-operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider for the transitions counter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service is the order state machine. Every operation takes the resolved
// actor explicitly, checks authorization before touching state, and commits
// through a conditional update so that concurrent requests for the same
// transition succeed at most once.
type Service struct {
	store     Store
	orders    Repository
	listings  listing.Repository
	projector *listing.Projector
	payments  payment.Processor
	payouts   payment.Ledger
	notifier  notify.Notifier

	codes          *CodeGenerator
	now            func() time.Time
	newID          func() string
	currency       string
	paymentTimeout time.Duration

	tracer      trace.Tracer
	meter       metric.Meter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required collaborators.
func NewService(
	store Store,
	orders Repository,
	listings listing.Repository,
	payments payment.Processor,
	payouts payment.Ledger,
	notifier notify.Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		store:          store,
		orders:         orders,
		listings:       listings,
		projector:      listing.NewProjector(listings),
		payments:       payments,
		payouts:        payouts,
		notifier:       notifier,
		codes:          NewCodeGenerator(nil),
		now:            time.Now,
		newID:          uuid.NewString,
		currency:       "eur",
		paymentTimeout: 10 * time.Second,
		tracer:         tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:          metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}

	counter, err := s.meter.Int64Counter("order.transitions",
		metric.WithDescription("Committed order state machine transitions"),
	)
	if err != nil {
		counter = metricnoop.Int64Counter{}
	}
	s.transitions = counter
	return s
}

// CreateOrder starts a checkout: it fixes the order's fees, issues its
// protection code and opens a payment intent. An abandoned CREATED order
// for the same buyer and listing is resumed rather than duplicated.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, req CreateRequest) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer func() { endSpan(span, rerr) }()

	if strings.TrimSpace(req.ListingID) == "" {
		return nil, &ValidationError{Field: "listingId", Reason: "required"}
	}
	l, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, errors.Wrap(err, "get listing")
	}

	prospective := &Order{ListingID: l.ID, BuyerID: actor.UserID, SellerID: l.SellerID}
	if !CanPerform(actor, prospective, TransitionCreate) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionCreate}
	}

	live, err := s.orders.FindLive(ctx, l.ID, actor.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "find live order")
	}
	if live != nil && live.Status != StatusCreated {
		return nil, &AlreadyExistsError{OrderID: live.ID, Status: live.Status}
	}
	if l.Status != listing.StatusPublished {
		return nil, &ListingUnavailableError{ListingID: l.ID, Status: string(l.Status)}
	}
	if live != nil {
		return s.resume(ctx, actor, live)
	}

	shipping := decimal.Zero
	if l.ShippingEnabled {
		shipping = l.ShippingCost
	}
	fees, err := ComputeFees(l.Price, shipping, req.HasProtection)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "generate protection code")
	}

	id := s.newID()
	intent, err := s.createIntent(ctx, payment.IntentRequest{
		AmountMinor: payment.MinorUnits(fees.Total),
		Currency:    s.currency,
		Description: "Order " + id + ": " + l.Title,
		Metadata: map[string]string{
			"orderId":   id,
			"listingId": l.ID,
			"buyerId":   actor.UserID,
			"sellerId":  l.SellerID,
		},
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:              id,
		ListingID:       l.ID,
		BuyerID:         actor.UserID,
		SellerID:        l.SellerID,
		Fees:            fees,
		HasProtection:   req.HasProtection,
		Status:          StatusCreated,
		Protection:      ProtectionCode{Code: code},
		PaymentIntentID: intent.ID,
		PaymentStatus:   string(intent.Status),
		IsLocalPickup:   !l.ShippingEnabled,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrLiveOrderExists) {
			// Lost a race with a concurrent checkout by the same buyer.
			if other, ferr := s.orders.FindLive(ctx, l.ID, actor.UserID); ferr == nil && other != nil {
				return nil, &AlreadyExistsError{OrderID: other.ID, Status: other.Status}
			}
			return nil, &AlreadyExistsError{}
		}
		return nil, errors.Wrap(err, "create order")
	}

	s.record(ctx, o, TransitionCreate, "", StatusCreated)
	return &CheckoutResult{Order: Redact(actor, o), ClientSecret: intent.ClientSecret}, nil
}

func (s *Service) resume(ctx context.Context, actor auth.Actor, o *Order) (*CheckoutResult, error) {
	intent, err := s.getIntent(ctx, o.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Resuming abandoned checkout",
		zap.String("order_id", o.ID),
		zap.String("listing_id", o.ListingID),
	)
	return &CheckoutResult{Order: Redact(actor, o), ClientSecret: intent.ClientSecret, Resumed: true}, nil
}

// ConfirmPayment moves a CREATED order into escrow once the processor
// reports the intent as succeeded, reserving the listing in the same
// transaction. Any processor failure leaves both untouched.
func (s *Service) ConfirmPayment(ctx context.Context, actor auth.Actor, id, intentID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionConfirmPayment) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionConfirmPayment, OrderID: o.ID}
	}
	next, err := Path(o.Status, TransitionConfirmPayment, TransitionHoldEscrow)
	if err != nil {
		return nil, err
	}
	intentID = strings.TrimSpace(intentID)
	if intentID != "" && intentID != o.PaymentIntentID {
		return nil, &ValidationError{Field: "paymentIntentId", Reason: "does not belong to this order"}
	}

	intent, err := s.getIntent(ctx, o.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != payment.IntentSucceeded {
		return nil, &PaymentError{IntentID: intent.ID, Status: string(intent.Status)}
	}
	if want := payment.MinorUnits(o.Fees.Total); intent.AmountMinor != want {
		return nil, &PaymentError{
			IntentID: intent.ID,
			Status:   string(intent.Status),
			Err:      errors.Errorf("charged %d, order total is %d", intent.AmountMinor, want),
		}
	}

	now := s.now()
	status := string(intent.Status)
	updated, err := s.commit(ctx, o, Patch{
		Status:        next,
		PaymentStatus: &status,
		Timeline:      Timeline{PaidAt: &now, EscrowAt: &now},
	}, func(ctx context.Context, u *Order) error {
		return s.projector.Apply(ctx, u.ListingID, listing.EscrowHeld)
	})
	if err != nil {
		if errors.Is(err, listing.ErrStatusConflict) {
			// The charge succeeded but the order cannot enter escrow, so the
			// funds have to be returned at the processor by hand.
			zctx.From(ctx).Warn("Payment captured for unavailable listing",
				zap.String("order_id", o.ID),
				zap.String("listing_id", o.ListingID),
				zap.String("payment_intent_id", intent.ID),
				zap.Int64("amount_minor", intent.AmountMinor),
			)
			return nil, s.listingUnavailable(ctx, o.ListingID)
		}
		return nil, s.fail(ctx, o.ID, TransitionConfirmPayment, err)
	}

	s.record(ctx, updated, TransitionConfirmPayment, o.Status, next)
	s.notify(ctx, updated.SellerID, updated, notify.EventOrderPaid,
		"New sale", "The buyer has paid. Funds are held in escrow until delivery is confirmed.")
	return Redact(actor, updated), nil
}

// MarkShipped records the carrier handoff of an escrowed order.
func (s *Service) MarkShipped(ctx context.Context, actor auth.Actor, id string, req ShipRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.MarkShipped")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionShip) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionShip, OrderID: o.ID}
	}
	next, err := Next(o.Status, TransitionShip)
	if err != nil {
		return nil, err
	}
	if o.IsLocalPickup {
		return nil, &InvalidTransitionError{
			Transition: TransitionShip,
			Current:    o.Status,
			Allowed:    Sources(TransitionShip),
			Reason:     "local pickup orders are handed over",
		}
	}
	key := NewTrackingKey(req.Carrier, req.TrackingNumber)
	switch {
	case key.Carrier == "":
		return nil, &ValidationError{Field: "carrier", Reason: "required"}
	case !KnownCarrier(key.Carrier):
		return nil, &ValidationError{Field: "carrier", Reason: "unknown carrier " + key.Carrier}
	}

	now := s.now()
	updated, err := s.commit(ctx, o, Patch{
		Status:   next,
		Shipment: &Shipment{Carrier: key.Carrier, TrackingNumber: key.TrackingNumber},
		Timeline: Timeline{ShippedAt: &now},
	}, nil)
	if err != nil {
		return nil, s.fail(ctx, o.ID, TransitionShip, err)
	}

	s.record(ctx, updated, TransitionShip, o.Status, next)
	s.notify(ctx, updated.BuyerID, updated, notify.EventOrderShipped,
		"Order shipped", "Your order is on its way.")
	return Redact(actor, updated), nil
}

// HandOver records an in-person handoff of a local pickup order.
func (s *Service) HandOver(ctx context.Context, actor auth.Actor, id string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.HandOver")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionHandOver) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionHandOver, OrderID: o.ID}
	}
	next, err := Next(o.Status, TransitionHandOver)
	if err != nil {
		return nil, err
	}
	if !o.IsLocalPickup {
		return nil, &InvalidTransitionError{
			Transition: TransitionHandOver,
			Current:    o.Status,
			Allowed:    Sources(TransitionHandOver),
			Reason:     "order ships with a carrier",
		}
	}

	now := s.now()
	updated, err := s.commit(ctx, o, Patch{
		Status:   next,
		Timeline: Timeline{HandedOverAt: &now},
	}, nil)
	if err != nil {
		return nil, s.fail(ctx, o.ID, TransitionHandOver, err)
	}

	s.record(ctx, updated, TransitionHandOver, o.Status, next)
	s.notify(ctx, updated.BuyerID, updated, notify.EventOrderHandedOver,
		"Item handed over", "The seller reports the item was handed over. Enter the protection code to confirm.")
	return Redact(actor, updated), nil
}

// MarkDelivered records receipt of a shipped or handed-over order. Both the
// buyer and an automated tracking collaborator may call it.
func (s *Service) MarkDelivered(ctx context.Context, actor auth.Actor, id string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.MarkDelivered")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionDeliver) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionDeliver, OrderID: o.ID}
	}
	next, err := Next(o.Status, TransitionDeliver)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.commit(ctx, o, Patch{
		Status:   next,
		Timeline: Timeline{DeliveredAt: &now},
	}, nil)
	if err != nil {
		return nil, s.fail(ctx, o.ID, TransitionDeliver, err)
	}

	s.record(ctx, updated, TransitionDeliver, o.Status, next)
	s.notify(ctx, updated.SellerID, updated, notify.EventOrderDelivered,
		"Order delivered", "The order was delivered. Funds are released once the buyer accepts.")
	if actor.IsSystem() {
		s.notify(ctx, updated.BuyerID, updated, notify.EventOrderDelivered,
			"Order delivered", "Your order was delivered. Check the item and enter the protection code.")
	}
	return Redact(actor, updated), nil
}

// VerifyProtectionCode consumes the order's protection code when input
// matches it. A mismatch returns ErrCodeMismatch and may be retried.
// Re-submitting the already consumed code succeeds without side effects.
func (s *Service) VerifyProtectionCode(ctx context.Context, actor auth.Actor, id, input string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.VerifyProtectionCode")
	defer func() { endSpan(span, rerr) }()

	const attempts = 3
	for range attempts {
		o, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanPerform(actor, o, TransitionVerifyCode) {
			return nil, &ForbiddenError{Actor: actor, Transition: TransitionVerifyCode, OrderID: o.ID}
		}
		if strings.TrimSpace(input) == "" {
			return nil, &ValidationError{Field: "code", Reason: "required"}
		}
		next, err := Next(o.Status, TransitionVerifyCode)
		if err != nil {
			return nil, err
		}

		pc, applied, err := Verify(o.Protection, input, s.now())
		if errors.Is(err, ErrCodeMismatch) {
			zctx.From(ctx).Debug("Protection code mismatch", zap.String("order_id", o.ID))
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if !applied {
			return Redact(actor, o), nil
		}

		updated, err := s.commit(ctx, o, Patch{Status: next, Protection: &pc}, nil)
		if errors.Is(err, ErrConflict) {
			// Another request changed the order; re-evaluate against the
			// fresh row so a concurrent identical verification reads as
			// success.
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "verify protection code")
		}

		s.record(ctx, updated, TransitionVerifyCode, o.Status, next)
		return Redact(actor, updated), nil
	}
	return nil, s.fail(ctx, id, TransitionVerifyCode, ErrConflict)
}

// AcceptAndRelease accepts a delivered order and releases escrowed funds to
// the seller in one step: the order reaches RELEASED, the listing is marked
// SOLD and a payout is recorded, all in one transaction.
func (s *Service) AcceptAndRelease(ctx context.Context, actor auth.Actor, id string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.AcceptAndRelease")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionAccept) || !CanPerform(actor, o, TransitionRelease) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionAccept, OrderID: o.ID}
	}
	next, err := Path(o.Status, TransitionAccept, TransitionRelease)
	if err != nil {
		return nil, err
	}
	if !o.Protection.Used {
		zctx.From(ctx).Warn("Accepting order without verified protection code",
			zap.String("order_id", o.ID),
			zap.String("buyer_id", o.BuyerID),
		)
	}

	now := s.now()
	updated, err := s.commit(ctx, o, Patch{
		Status:   next,
		Timeline: Timeline{AcceptedAt: &now, ReleasedAt: &now},
	}, func(ctx context.Context, u *Order) error {
		if err := s.projector.Apply(ctx, u.ListingID, listing.Released); err != nil {
			return err
		}
		return s.payouts.RecordPayout(ctx, &payment.Payout{
			ID:        s.newID(),
			OrderID:   u.ID,
			SellerID:  u.SellerID,
			Amount:    u.Fees.SellerPayout,
			Currency:  s.currency,
			CreatedAt: now,
		})
	})
	if err != nil {
		if errors.Is(err, listing.ErrStatusConflict) {
			return nil, s.listingUnavailable(ctx, o.ListingID)
		}
		return nil, s.fail(ctx, o.ID, TransitionRelease, err)
	}

	s.record(ctx, updated, TransitionRelease, o.Status, next)
	s.notify(ctx, updated.SellerID, updated, notify.EventFundsReleased,
		"Funds released", "The buyer accepted the order. Your payout of "+
			updated.Fees.SellerPayout.StringFixed(2)+" "+strings.ToUpper(s.currency)+" is on its way.")
	return Redact(actor, updated), nil
}

// OpenDispute freezes a paid order pending manual resolution.
func (s *Service) OpenDispute(ctx context.Context, actor auth.Actor, id, reason string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.OpenDispute")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionDispute) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionDispute, OrderID: o.ID}
	}
	next, err := Next(o.Status, TransitionDispute)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}

	now := s.now()
	updated, err := s.commit(ctx, o, Patch{
		Status:        next,
		DisputeReason: &reason,
		Timeline:      Timeline{DisputedAt: &now},
	}, nil)
	if err != nil {
		return nil, s.fail(ctx, o.ID, TransitionDispute, err)
	}

	s.record(ctx, updated, TransitionDispute, o.Status, next)
	counterparty := updated.SellerID
	if actor.Is(updated.SellerID) {
		counterparty = updated.BuyerID
	}
	s.notify(ctx, counterparty, updated, notify.EventOrderDisputed,
		"Dispute opened", "A dispute was opened on this order: "+reason)
	return Redact(actor, updated), nil
}

// Refund returns escrowed funds to the buyer and puts the listing back on
// sale. Only system actors may refund.
func (s *Service) Refund(ctx context.Context, actor auth.Actor, id string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Refund")
	defer func() { endSpan(span, rerr) }()

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanPerform(actor, o, TransitionRefund) {
		return nil, &ForbiddenError{Actor: actor, Transition: TransitionRefund, OrderID: o.ID}
	}
	next, err := Next(o.Status, TransitionRefund)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.commit(ctx, o, Patch{
		Status:   next,
		Timeline: Timeline{RefundedAt: &now},
	}, func(ctx context.Context, u *Order) error {
		return s.projector.Apply(ctx, u.ListingID, listing.Refunded)
	})
	if err != nil {
		if errors.Is(err, listing.ErrStatusConflict) {
			return nil, s.listingUnavailable(ctx, o.ListingID)
		}
		return nil, s.fail(ctx, o.ID, TransitionRefund, err)
	}

	s.record(ctx, updated, TransitionRefund, o.Status, next)
	s.notify(ctx, updated.BuyerID, updated, notify.EventOrderRefunded,
		"Order refunded", "Your payment of "+updated.Fees.Total.StringFixed(2)+" "+
			strings.ToUpper(s.currency)+" is being refunded.")
	s.notify(ctx, updated.SellerID, updated, notify.EventOrderRefunded,
		"Order refunded", "The order was refunded and your listing is published again.")
	return Redact(actor, updated), nil
}

// GetOrder returns the order if actor is one of its parties.
func (s *Service) GetOrder(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, o) {
		return nil, &ForbiddenError{Actor: actor, Transition: actionView, OrderID: o.ID}
	}
	return Redact(actor, o), nil
}

// ListOrders returns the actor's orders as buyer, seller or both, newest
// first.
func (s *Service) ListOrders(ctx context.Context, actor auth.Actor, role Role) ([]Order, error) {
	if !actor.IsUser() {
		return nil, &ForbiddenError{Actor: actor, Transition: actionView}
	}
	switch role {
	case "":
		role = RoleAll
	case RoleBuying, RoleSelling, RoleAll:
	default:
		return nil, &ValidationError{Field: "role", Reason: "must be buying, selling or all"}
	}

	list, err := s.orders.ListByUser(ctx, actor.UserID, role)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]Order, len(list))
	for i := range list {
		out[i] = *Redact(actor, &list[i])
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// commit applies p to o conditioned on o's status and version, then runs
// effect inside the same transaction. ErrConflict is returned unchanged
// when the order moved on since it was loaded.
func (s *Service) commit(ctx context.Context, o *Order, p Patch, effect func(ctx context.Context, u *Order) error) (*Order, error) {
	var updated *Order
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.orders.ConditionalUpdate(ctx, o.ID, o.Status, o.Version, p)
		if err != nil {
			return err
		}
		if effect != nil {
			if err := effect(ctx, u); err != nil {
				return err
			}
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// fail converts a lost optimistic race into an InvalidTransitionError
// against the order's current status.
func (s *Service) fail(ctx context.Context, id string, t Transition, err error) error {
	if !errors.Is(err, ErrConflict) {
		return errors.Wrapf(err, "%s order", t)
	}
	current, lerr := s.orders.Get(ctx, id)
	if lerr != nil {
		return errors.Wrap(lerr, "reload order")
	}
	zctx.From(ctx).Info("Lost concurrent transition",
		zap.String("order_id", id),
		zap.String("transition", string(t)),
		zap.String("current", string(current.Status)),
	)
	return &InvalidTransitionError{
		Transition: t,
		Current:    current.Status,
		Allowed:    Sources(t),
		Reason:     "order changed concurrently",
	}
}

func (s *Service) listingUnavailable(ctx context.Context, listingID string) error {
	status := "unavailable"
	if l, err := s.listings.Get(ctx, listingID); err == nil {
		status = string(l.Status)
	}
	return &ListingUnavailableError{ListingID: listingID, Status: status}
}

func (s *Service) createIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	intent, err := s.payments.CreateIntent(ctx, req)
	if err != nil {
		return nil, &PaymentError{Err: err}
	}
	return intent, nil
}

func (s *Service) getIntent(ctx context.Context, id string) (*payment.Intent, error) {
	if id == "" {
		return nil, &PaymentError{Err: errors.New("order has no payment intent")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	intent, err := s.payments.GetIntent(ctx, id)
	if err != nil {
		return nil, &PaymentError{IntentID: id, Err: err}
	}
	return intent, nil
}

func (s *Service) record(ctx context.Context, o *Order, t Transition, from, to Status) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transition", string(t)),
		attribute.String("to", string(to)),
	))
	zctx.From(ctx).Info("Order transition",
		zap.String("order_id", o.ID),
		zap.String("transition", string(t)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// notify delivers a notification after commit. Failures are logged and
// never undo the transition.
func (s *Service) notify(ctx context.Context, userID string, o *Order, ev notify.Event, title, msg string) {
	err := s.notifier.Notify(ctx, notify.Notification{
		ID:        s.newID(),
		UserID:    userID,
		OrderID:   o.ID,
		Event:     ev,
		Title:     title,
		Message:   msg,
		CreatedAt: s.now(),
	})
	if err != nil {
		zctx.From(ctx).Warn("Notification failed",
			zap.String("order_id", o.ID),
			zap.String("event", string(ev)),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
