// Package robokassa verifies Robokassa result notifications.
//
// Robokassa delivers a form-encoded payload to the result URL and signs it
// with MD5 over "OutSum:InvId:Password2". Delivery is at-least-once: the
// gateway re-sends the identical payload until it receives the literal
// "OK<InvId>" acknowledgement, so the invoice id doubles as the provider
// transaction id for idempotency.
package robokassa

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/proofroom/proofroom/internal/domain/order"
	"github.com/proofroom/proofroom/internal/domain/payment"
)

// ProviderName identifies this integration in idempotency records and logs.
const ProviderName = "robokassa"

// Verifier authenticates Robokassa result notifications. It is stateless and
// safe for concurrent use; construct one per process from configuration.
type Verifier struct {
	password2 string
	orders    order.Finder
}

// New creates a Verifier with the merchant's second password (the one
// Robokassa uses for result URL signatures).
func New(password2 string, orders order.Finder) *Verifier {
	return &Verifier{password2: password2, orders: orders}
}

// Provider implements payment.Verifier.
func (v *Verifier) Provider() string { return ProviderName }

// Verify authenticates the form-encoded payload and normalizes it into a
// canonical event. Robokassa only notifies the result URL on successful
// payment, so the outcome is always confirmed.
func (v *Verifier) Verify(ctx context.Context, payload []byte) (*payment.Event, error) {
	vals, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonMalformed,
			Detail:   "not form-encoded",
		}
	}

	outSum := vals.Get("OutSum")
	invID := vals.Get("InvId")
	signature := vals.Get("SignatureValue")
	if outSum == "" || invID == "" || signature == "" {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonMalformed,
			Detail:   "OutSum, InvId and SignatureValue are required",
		}
	}

	if want := Signature(outSum, invID, v.password2); !strings.EqualFold(want, signature) {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonBadSignature,
		}
	}

	amount, err := decimal.NewFromString(outSum)
	if err != nil {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonMalformed,
			Detail:   "OutSum is not a decimal",
		}
	}

	// The invoice id is an opaque order reference; it must resolve before
	// the event reaches reconciliation.
	o, err := v.orders.GetByID(ctx, invID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, &payment.VerificationError{
				Provider: ProviderName,
				Reason:   payment.ReasonUnknownOrder,
				Detail:   invID,
			}
		}
		return nil, errors.Wrap(err, "find order")
	}

	return &payment.Event{
		OrderID:        o.ID,
		Provider:       ProviderName,
		TransactionID:  invID,
		Outcome:        payment.OutcomeConfirmed,
		Amount:         amount,
		SignatureValid: true,
	}, nil
}

// Signature computes the result URL signature: MD5 over the colon-joined
// amount, invoice id, and merchant password, hex-encoded.
func Signature(outSum, invID, password string) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s:%s:%s", outSum, invID, password))
	return hex.EncodeToString(sum[:])
}

// Ack is the acknowledgement body Robokassa requires on success.
func Ack(invID string) string {
	return "OK" + invID
}
