package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/listing"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
	"github.com/xenking/passproduct-escrow/internal/domain/payment"
)

// problem is the JSON error body. Current, Allowed and OrderID are set when
// the error carries them so clients can decide whether to retry.
type problem struct {
	Status  int
	Code    string
	Message string
	Current string
	Allowed []string
	OrderID string
	Field   string
}

func (p problem) encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("message")
	e.Str(p.Message)
	if p.Current != "" {
		e.FieldStart("current")
		e.Str(p.Current)
	}
	if len(p.Allowed) > 0 {
		e.FieldStart("allowed")
		e.ArrStart()
		for _, s := range p.Allowed {
			e.Str(s)
		}
		e.ArrEnd()
	}
	if p.OrderID != "" {
		e.FieldStart("orderId")
		e.Str(p.OrderID)
	}
	if p.Field != "" {
		e.FieldStart("field")
		e.Str(p.Field)
	}
	e.ObjEnd()
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	p := problem{Status: status, Code: code, Message: msg}
	writeJSON(w, status, p.encode)
}

// problemFor maps a domain error to its HTTP representation.
func problemFor(err error) problem {
	var (
		ite *order.InvalidTransitionError
		lue *order.ListingUnavailableError
		ve  *order.ValidationError
		ae  *order.AlreadyExistsError
		fe  *order.ForbiddenError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return problem{Status: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: err.Error()}
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, listing.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return problem{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.As(err, &fe):
		return problem{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: err.Error(), OrderID: fe.OrderID}
	case errors.Is(err, order.ErrForbidden):
		return problem{Status: http.StatusForbidden, Code: "FORBIDDEN", Message: err.Error()}
	case errors.As(err, &lue):
		return problem{Status: http.StatusConflict, Code: "LISTING_UNAVAILABLE", Message: err.Error(), Current: lue.Status}
	case errors.As(err, &ite):
		p := problem{Status: http.StatusConflict, Code: "INVALID_TRANSITION", Message: err.Error(), Current: string(ite.Current)}
		for _, s := range ite.Allowed {
			p.Allowed = append(p.Allowed, string(s))
		}
		return p
	case errors.As(err, &ve):
		return problem{Status: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: err.Error(), Field: ve.Field}
	case errors.As(err, &ae):
		return problem{Status: http.StatusConflict, Code: "ALREADY_EXISTS", Message: err.Error(), OrderID: ae.OrderID}
	case errors.Is(err, order.ErrUpstreamPayment):
		return problem{Status: http.StatusBadGateway, Code: "PAYMENT_ERROR", Message: err.Error()}
	case errors.Is(err, order.ErrCodeMismatch):
		return problem{Status: http.StatusUnprocessableEntity, Code: "CODE_MISMATCH", Message: err.Error()}
	case errors.Is(err, payment.ErrPayoutExists):
		return problem{Status: http.StatusConflict, Code: "CONFLICT", Message: err.Error()}
	default:
		return problem{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal server error"}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	lg := zctx.From(r.Context())
	if p.Status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", p.Status), zap.Error(err))
	}
	writeJSON(w, p.Status, p.encode)
}

func badRequest(w http.ResponseWriter, err error) {
	writeProblem(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
}
