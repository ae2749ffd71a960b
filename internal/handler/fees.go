package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

// QuoteFees returns the fee breakdown for ?price=&shipping=&protection=,
// computed by the same function that fixes an order's terms.
func (h *Handler) QuoteFees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	price, err := decimal.NewFromString(q.Get("price"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "VALIDATION_ERROR", "price must be a decimal amount")
		return
	}
	shipping := decimal.Zero
	if v := q.Get("shipping"); v != "" {
		if shipping, err = decimal.NewFromString(v); err != nil {
			writeProblem(w, http.StatusBadRequest, "VALIDATION_ERROR", "shipping must be a decimal amount")
			return
		}
	}
	protection := false
	if v := q.Get("protection"); v != "" {
		if protection, err = strconv.ParseBool(v); err != nil {
			writeProblem(w, http.StatusBadRequest, "VALIDATION_ERROR", "protection must be a boolean")
			return
		}
	}

	fees, err := order.ComputeFees(price, shipping, protection)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeFees(e, fees) })
}

// ListCarriers returns the carriers a seller may ship with.
func (h *Handler) ListCarriers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, c := range order.Carriers {
			e.ObjStart()
			str(e, "id", c.ID)
			str(e, "name", c.Name)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}
