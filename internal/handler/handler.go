// Package handler exposes the escrow order service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/passproduct-escrow/internal/domain/auth"
	"github.com/xenking/passproduct-escrow/internal/domain/notify"
	"github.com/xenking/passproduct-escrow/internal/domain/order"
)

// OrderService is the subset of *order.Service the handlers call.
type OrderService interface {
	CreateOrder(ctx context.Context, actor auth.Actor, req order.CreateRequest) (*order.CheckoutResult, error)
	ConfirmPayment(ctx context.Context, actor auth.Actor, id, intentID string) (*order.Order, error)
	MarkShipped(ctx context.Context, actor auth.Actor, id string, req order.ShipRequest) (*order.Order, error)
	HandOver(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	MarkDelivered(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	VerifyProtectionCode(ctx context.Context, actor auth.Actor, id, code string) (*order.Order, error)
	AcceptAndRelease(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	OpenDispute(ctx context.Context, actor auth.Actor, id, reason string) (*order.Order, error)
	Refund(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	GetOrder(ctx context.Context, actor auth.Actor, id string) (*order.Order, error)
	ListOrders(ctx context.Context, actor auth.Actor, role order.Role) ([]order.Order, error)
}

var _ OrderService = (*order.Service)(nil)

// Handler serves the /api routes, delegating business logic to the order
// service.
type Handler struct {
	orders   OrderService
	inbox    notify.Inbox
	resolver ActorResolver
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderService, inbox notify.Inbox, resolver ActorResolver) *Handler {
	return &Handler{
		orders:   orders,
		inbox:    inbox,
		resolver: resolver,
	}
}

// Router returns the API routes, meant to be mounted under /api. Requests
// to authenticated routes pass through Authenticate and then through
// authed, in order.
func (h *Handler) Router(authed ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/fees", h.QuoteFees)
	r.Get("/carriers", h.ListCarriers)

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(authed...)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/confirm-payment", h.ConfirmPayment)
				r.Post("/ship", h.MarkShipped)
				r.Post("/hand-over", h.HandOver)
				r.Post("/deliver", h.MarkDelivered)
				r.Post("/verify-code", h.VerifyProtectionCode)
				r.Post("/accept", h.AcceptAndRelease)
				r.Post("/dispute", h.OpenDispute)
				r.Post("/refund", h.Refund)
			})
		})
		r.Get("/notifications", h.ListNotifications)
	})
	return r
}
