package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/proofroom/proofroom/internal/domain/payment"
	"github.com/proofroom/proofroom/internal/payment/robokassa"
)

// Webhook bodies are tiny; cap reads defensively.
const maxWebhookBody = 64 << 10

// RobokassaResult handles the Robokassa result URL. The gateway expects the
// literal "OK<InvId>" body; anything else makes it retry. An unauthentic
// payload is answered 400 so the gateway stops retrying garbage, while a
// storage failure is answered 503 so the retry redelivers — the idempotency
// guard makes redelivery safe.
func (h *Handler) RobokassaResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWebhookText(w, http.StatusBadRequest, "bad request")
		return
	}

	ev, err := h.robokassa.Verify(r.Context(), body)
	if err != nil {
		h.respondWebhookError(w, r, err, func(status int, msg string) {
			respondWebhookText(w, status, msg)
		})
		return
	}

	if _, err := h.reconciler.Handle(r.Context(), ev); err != nil {
		// Not committed; ask the gateway to retry.
		respondWebhookText(w, http.StatusServiceUnavailable, "temporary failure")
		return
	}

	// Reply only after the transaction committed. Duplicates and conflicts
	// are acknowledged too: the gateway's job is done either way.
	respondWebhookText(w, http.StatusOK, robokassa.Ack(ev.TransactionID))
}

// TinkoffNotify handles Tinkoff acquiring notifications with the same
// status discipline as RobokassaResult, but a JSON acknowledgement.
func (h *Handler) TinkoffNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondJSON(w, r, http.StatusBadRequest, map[string]bool{"success": false})
		return
	}

	ev, err := h.tinkoff.Verify(r.Context(), body)
	if err != nil {
		h.respondWebhookError(w, r, err, func(status int, _ string) {
			respondJSON(w, r, status, map[string]bool{"success": false})
		})
		return
	}

	if _, err := h.reconciler.Handle(r.Context(), ev); err != nil {
		respondJSON(w, r, http.StatusServiceUnavailable, map[string]bool{"success": false})
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

// respondWebhookError distinguishes "unauthentic or malformed payload" (the
// provider must not retry) from "we are broken" (the provider should retry).
// Every verification failure is security-relevant and logged.
func (h *Handler) respondWebhookError(w http.ResponseWriter, r *http.Request, err error, respond func(status int, msg string)) {
	var verr *payment.VerificationError
	if errors.As(err, &verr) {
		zctx.From(r.Context()).Warn("webhook verification failed",
			zap.String("provider", verr.Provider),
			zap.String("reason", string(verr.Reason)),
			zap.String("detail", verr.Detail),
		)
		respond(http.StatusBadRequest, "verification failed")
		return
	}

	zctx.From(r.Context()).Error("webhook processing failed", zap.Error(err))
	respond(http.StatusServiceUnavailable, "temporary failure")
}

func respondWebhookText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
