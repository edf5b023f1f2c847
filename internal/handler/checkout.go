package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/proofroom/proofroom/internal/domain/order"
)

type placeOrderRequest struct {
	SessionID     string   `json:"sessionId"`
	GuestEmail    string   `json:"guestEmail"`
	GuestName     string   `json:"guestName,omitempty"`
	GuestPhone    string   `json:"guestPhone,omitempty"`
	PhotoIDs      []string `json:"photoIds"`
	PaymentMethod string   `json:"paymentMethod"`
}

type placeOrderResponse struct {
	ID            string `json:"id"`
	TotalAmount   string `json:"totalAmount"`
	Discount      string `json:"discount"`
	FinalAmount   string `json:"finalAmount"`
	PaymentMethod string `json:"paymentMethod"`
}

// PlaceOrder handles guest checkout. Validation failures are returned with
// enough detail to correct the input; no internal identifiers beyond the
// order id ever leave this endpoint.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), order.CreateOrderRequest{
		SessionID: req.SessionID,
		Guest: order.GuestContact{
			Email: req.GuestEmail,
			Name:  req.GuestName,
			Phone: req.GuestPhone,
		},
		PhotoIDs:      req.PhotoIDs,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.respondCheckoutError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, placeOrderResponse{
		ID:            o.ID,
		TotalAmount:   o.Total.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		FinalAmount:   o.Final.StringFixed(2),
		PaymentMethod: string(o.PaymentMethod),
	})
}

func (h *Handler) respondCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrUnsupportedPaymentMethod):
		respondError(w, r, http.StatusBadRequest, "unsupported payment method")
	case errors.Is(err, order.ErrInvalidGuestEmail):
		respondError(w, r, http.StatusBadRequest, "invalid guest email")
	case errors.Is(err, order.ErrEmptySelection):
		respondError(w, r, http.StatusBadRequest, "photo selection is empty")
	default:
		var selErr *order.InvalidSelectionError
		if errors.As(err, &selErr) {
			respondError(w, r, http.StatusUnprocessableEntity, selErr.Error())
			return
		}
		zctx.From(r.Context()).Error("checkout failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
