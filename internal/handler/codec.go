package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/passproduct-escrow/internal/domain/notify"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

const maxBodyBytes = 64 << 10

// decodeBody reads a JSON object from r and calls field for every key. An
// empty body is accepted as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return nil
	}
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, name string, d decimal.Decimal) {
	e.FieldStart(name)
	e.Str(d.StringFixed(2))
}

func timestamp(e *jx.Encoder, name string, t *time.Time) {
	e.FieldStart(name)
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func str(e *jx.Encoder, name, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	str(e, "id", o.ID)
	str(e, "listingId", o.ListingID)
	str(e, "buyerId", o.BuyerID)
	str(e, "sellerId", o.SellerID)
	str(e, "status", string(o.Status))

	money(e, "amount", o.Fees.Amount)
	money(e, "shippingAmount", o.Fees.Shipping)
	money(e, "feeMarketplace", o.Fees.FeeMarketplace)
	money(e, "feeProtection", o.Fees.FeeProtection)
	money(e, "total", o.Fees.Total)
	money(e, "sellerPayout", o.Fees.SellerPayout)
	e.FieldStart("hasProtection")
	e.Bool(o.HasProtection)

	// Redacted snapshots carry no code at all.
	if o.Protection.Code != "" {
		str(e, "protectionCode", o.Protection.Code)
	}
	e.FieldStart("protectionCodeUsed")
	e.Bool(o.Protection.Used)
	timestamp(e, "protectionVerifiedAt", o.Protection.VerifiedAt)

	str(e, "carrier", o.Shipment.Carrier)
	str(e, "trackingNumber", o.Shipment.TrackingNumber)

	timestamp(e, "paidAt", o.Timeline.PaidAt)
	timestamp(e, "escrowAt", o.Timeline.EscrowAt)
	timestamp(e, "shippedAt", o.Timeline.ShippedAt)
	timestamp(e, "handedOverAt", o.Timeline.HandedOverAt)
	timestamp(e, "deliveredAt", o.Timeline.DeliveredAt)
	timestamp(e, "acceptedAt", o.Timeline.AcceptedAt)
	timestamp(e, "releasedAt", o.Timeline.ReleasedAt)
	timestamp(e, "disputedAt", o.Timeline.DisputedAt)
	timestamp(e, "refundedAt", o.Timeline.RefundedAt)

	str(e, "paymentIntentId", o.PaymentIntentID)
	str(e, "paymentStatus", o.PaymentStatus)
	e.FieldStart("isLocalPickup")
	e.Bool(o.IsLocalPickup)
	str(e, "shippingAddress", o.ShippingAddress)
	if o.DisputeReason != "" {
		str(e, "disputeReason", o.DisputeReason)
	}
	timestamp(e, "createdAt", &o.CreatedAt)
	timestamp(e, "updatedAt", &o.UpdatedAt)
	e.ObjEnd()
}

func encodeFees(e *jx.Encoder, f order.Fees) {
	e.ObjStart()
	money(e, "amount", f.Amount)
	money(e, "shippingAmount", f.Shipping)
	money(e, "feeMarketplace", f.FeeMarketplace)
	money(e, "feeProtection", f.FeeProtection)
	money(e, "total", f.Total)
	money(e, "sellerPayout", f.SellerPayout)
	e.ObjEnd()
}

func encodeNotification(e *jx.Encoder, n notify.Notification) {
	e.ObjStart()
	str(e, "id", n.ID)
	str(e, "orderId", n.OrderID)
	str(e, "event", string(n.Event))
	str(e, "title", n.Title)
	str(e, "message", n.Message)
	timestamp(e, "createdAt", &n.CreatedAt)
	e.ObjEnd()
}
