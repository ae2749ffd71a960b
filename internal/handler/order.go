package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

// CreateOrder starts a checkout for the authenticated buyer.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "listingId":
			req.ListingID, err = d.Str()
		case "hasProtection":
			req.HasProtection, err = d.Bool()
		case "shippingAddress":
			req.ShippingAddress, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		badRequest(w, err)
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), mustActor(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		str(e, "clientSecret", res.ClientSecret)
		e.FieldStart("resumed")
		e.Bool(res.Resumed)
		e.ObjEnd()
	})
}

// ListOrders lists the caller's orders, filtered by the role query
// parameter (buying, selling or all).
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.orders.ListOrders(r.Context(), mustActor(r), order.Role(r.URL.Query().Get("role")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			encodeOrder(e, &list[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

// ConfirmPayment accepts an optional {"paymentIntentId"} body.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var intentID string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "paymentIntentId" {
			v, err := d.Str()
			intentID = v
			return err
		}
		return d.Skip()
	})
	if err != nil {
		badRequest(w, err)
		return
	}
	o, err := h.orders.ConfirmPayment(r.Context(), mustActor(r), chi.URLParam(r, "id"), intentID)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) MarkShipped(w http.ResponseWriter, r *http.Request) {
	var req order.ShipRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "carrier":
			req.Carrier, err = d.Str()
		case "trackingNumber":
			req.TrackingNumber, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		badRequest(w, err)
		return
	}
	o, err := h.orders.MarkShipped(r.Context(), mustActor(r), chi.URLParam(r, "id"), req)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) HandOver(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.HandOver(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkDelivered(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) VerifyProtectionCode(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "code" {
			v, err := d.Str()
			code = v
			return err
		}
		return d.Skip()
	})
	if err != nil {
		badRequest(w, err)
		return
	}
	o, err := h.orders.VerifyProtectionCode(r.Context(), mustActor(r), chi.URLParam(r, "id"), code)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) AcceptAndRelease(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.AcceptAndRelease(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var reason string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "reason" {
			v, err := d.Str()
			reason = v
			return err
		}
		return d.Skip()
	})
	if err != nil {
		badRequest(w, err)
		return
	}
	o, err := h.orders.OpenDispute(r.Context(), mustActor(r), chi.URLParam(r, "id"), reason)
	h.respondOrder(w, r, o, err)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Refund(r.Context(), mustActor(r), chi.URLParam(r, "id"))
	h.respondOrder(w, r, o, err)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
