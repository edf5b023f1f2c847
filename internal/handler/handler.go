// Package handler exposes the HTTP surface: guest checkout, the two payment
// provider webhooks, and staff order operations.
package handler

import (
	"context"
	"net/http"

	"github.com/proofroom/proofroom/internal/domain/auth"
	"github.com/proofroom/proofroom/internal/domain/order"
	"github.com/proofroom/proofroom/internal/domain/payment"
	"github.com/proofroom/proofroom/internal/domain/reconcile"
)

// OrderService is the slice of the order ledger the HTTP layer needs.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id string, actor auth.Actor) (*order.Order, error)
	SetManualStatus(ctx context.Context, id string, actor auth.Actor, upd order.StatusUpdate) (*order.Order, error)
}

// Reconciler consumes verified payment events.
type Reconciler interface {
	Handle(ctx context.Context, ev *payment.Event) (reconcile.Outcome, error)
}

// Handler carries the dependencies of every route.
type Handler struct {
	orders     OrderService
	reconciler Reconciler
	robokassa  payment.Verifier
	tinkoff    payment.Verifier
	security   *Security
}

// New constructs a Handler with the required dependencies.
func New(
	orders OrderService,
	reconciler Reconciler,
	robokassaVerifier payment.Verifier,
	tinkoffVerifier payment.Verifier,
	security *Security,
) *Handler {
	return &Handler{
		orders:     orders,
		reconciler: reconciler,
		robokassa:  robokassaVerifier,
		tinkoff:    tinkoffVerifier,
		security:   security,
	}
}

// Routes registers every API route on a fresh mux. Webhooks are
// unauthenticated at the HTTP layer; their payload signature is the
// authentication. Staff routes go through the API key middleware.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("POST /api/payments/robokassa/result", h.RobokassaResult)
	mux.HandleFunc("POST /api/payments/tinkoff/notify", h.TinkoffNotify)

	mux.Handle("GET /api/orders/{id}",
		h.security.Require(auth.ScopeOrdersRead, http.HandlerFunc(h.GetOrder)))
	mux.Handle("PATCH /api/orders/{id}/status",
		h.security.Require(auth.ScopeOrdersWrite, http.HandlerFunc(h.UpdateOrderStatus)))

	return mux
}
