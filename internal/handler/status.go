package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/proofroom/proofroom/internal/domain/order"
)

type orderResponse struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"sessionId"`
	GuestEmail    string     `json:"guestEmail"`
	PaymentMethod string     `json:"paymentMethod"`
	TotalAmount   string     `json:"totalAmount"`
	Discount      string     `json:"discount"`
	FinalAmount   string     `json:"finalAmount"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"paymentStatus"`
	ItemCount     int        `json:"itemCount"`
	CreatedAt     time.Time  `json:"createdAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func toOrderResponse(o *order.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		SessionID:     o.SessionID,
		GuestEmail:    o.Guest.Email,
		PaymentMethod: string(o.PaymentMethod),
		TotalAmount:   o.Total.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		FinalAmount:   o.Final.StringFixed(2),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		ItemCount:     len(o.Items),
		CreatedAt:     o.CreatedAt,
		ProcessedAt:   o.ProcessedAt,
		CompletedAt:   o.CompletedAt,
	}
}

// GetOrder returns one order for staff, scoped to the actor's studio.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, toOrderResponse(o))
}

type statusUpdateRequest struct {
	Status        *string `json:"status,omitempty"`
	PaymentStatus *string `json:"paymentStatus,omitempty"`
}

// UpdateOrderStatus applies a staff-driven status edit: fulfillment
// transitions for any order, payment transitions for cash orders only.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Status == nil && req.PaymentStatus == nil {
		respondError(w, r, http.StatusBadRequest, "status or paymentStatus is required")
		return
	}

	var upd order.StatusUpdate
	if req.Status != nil {
		st, err := order.ParseStatus(*req.Status)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd.Status = &st
	}
	if req.PaymentStatus != nil {
		st, err := order.ParsePaymentStatus(*req.PaymentStatus)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		upd.PaymentStatus = &st
	}

	o, err := h.orders.SetManualStatus(r.Context(), r.PathValue("id"), actor, upd)
	if err != nil {
		h.respondOrderError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) respondOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var trErr *order.InvalidTransitionError
	switch {
	case errors.Is(err, order.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrTenantMismatch):
		respondError(w, r, http.StatusForbidden, "order belongs to another studio")
	case errors.Is(err, order.ErrManualPaymentEdit):
		respondError(w, r, http.StatusForbidden, err.Error())
	case errors.As(err, &trErr):
		respondError(w, r, http.StatusConflict, trErr.Error())
	default:
		zctx.From(r.Context()).Error("order operation failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
