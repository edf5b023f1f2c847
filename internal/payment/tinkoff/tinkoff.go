// Package tinkoff verifies Tinkoff acquiring webhook notifications.
//
// The gateway posts a JSON object carrying a Token field: an HMAC-SHA256
// digest over the canonical form of every other scalar field, where the
// canonical form is the lexicographically key-sorted concatenation of
// key+value pairs. Unlike Robokassa, Tinkoff reports explicit rejection and
// cancellation, so all three canonical outcomes are reachable.
package tinkoff

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/proofroom/proofroom/internal/domain/order"
	"github.com/proofroom/proofroom/internal/domain/payment"
)

// ProviderName identifies this integration in idempotency records and logs.
const ProviderName = "tinkoff"

var minorUnits = decimal.NewFromInt(100)

// Verifier authenticates Tinkoff notifications. Stateless, safe for
// concurrent use; construct one per process from configuration.
type Verifier struct {
	terminalKey string
	secret      []byte
	orders      order.Finder
}

// New creates a Verifier for the given terminal and its signing secret.
func New(terminalKey, secret string, orders order.Finder) *Verifier {
	return &Verifier{
		terminalKey: terminalKey,
		secret:      []byte(secret),
		orders:      orders,
	}
}

// Provider implements payment.Verifier.
func (v *Verifier) Provider() string { return ProviderName }

// Verify authenticates the JSON payload and normalizes it into a canonical
// event.
func (v *Verifier) Verify(ctx context.Context, payload []byte) (*payment.Event, error) {
	fields, err := decodeScalarFields(payload)
	if err != nil {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonMalformed,
			Detail:   err.Error(),
		}
	}

	token, ok := fields["Token"]
	if !ok || token == "" {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonMalformed,
			Detail:   "Token is required",
		}
	}
	delete(fields, "Token")

	if fields["TerminalKey"] != v.terminalKey {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonBadSignature,
			Detail:   "terminal key mismatch",
		}
	}

	if want := Token(fields, v.secret); !strings.EqualFold(want, token) {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonBadSignature,
		}
	}

	outcome, err := mapOutcome(fields["Success"], fields["Status"])
	if err != nil {
		return nil, err
	}

	txnID := fields["PaymentId"]
	orderRef := fields["OrderId"]
	if txnID == "" || orderRef == "" {
		return nil, &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonMalformed,
			Detail:   "PaymentId and OrderId are required",
		}
	}

	o, err := v.orders.GetByID(ctx, orderRef)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, &payment.VerificationError{
				Provider: ProviderName,
				Reason:   payment.ReasonUnknownOrder,
				Detail:   orderRef,
			}
		}
		return nil, errors.Wrap(err, "find order")
	}

	// Amount arrives in minor units (kopecks).
	amount := decimal.Zero
	if raw := fields["Amount"]; raw != "" {
		n, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, &payment.VerificationError{
				Provider: ProviderName,
				Reason:   payment.ReasonMalformed,
				Detail:   "Amount is not a number",
			}
		}
		amount = n.Div(minorUnits)
	}

	return &payment.Event{
		OrderID:        o.ID,
		Provider:       ProviderName,
		TransactionID:  txnID,
		Outcome:        outcome,
		Amount:         amount,
		SignatureValid: true,
	}, nil
}

// mapOutcome converts the Success flag and Status field to a canonical
// outcome. Statuses outside the notification contract are rejected rather
// than guessed at.
func mapOutcome(success, status string) (payment.Outcome, error) {
	switch status {
	case "CONFIRMED":
		if success != "true" {
			return "", &payment.VerificationError{
				Provider: ProviderName,
				Reason:   payment.ReasonUnsupported,
				Detail:   "CONFIRMED status without success flag",
			}
		}
		return payment.OutcomeConfirmed, nil
	case "REJECTED":
		return payment.OutcomeFailed, nil
	case "CANCELED", "REVERSED":
		return payment.OutcomeCancelled, nil
	default:
		return "", &payment.VerificationError{
			Provider: ProviderName,
			Reason:   payment.ReasonUnsupported,
			Detail:   "status " + status,
		}
	}
}

// Token computes the notification token: HMAC-SHA256 over the canonical
// key-sorted key+value concatenation of all fields, hex-encoded.
func Token(fields map[string]string, secret []byte) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(fields[k])
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// decodeScalarFields flattens the top-level scalar fields of the JSON object
// into strings: numbers and booleans keep their literal representation, which
// is exactly what the token canonicalization hashes. Nested values and nulls
// do not participate in the token and are skipped.
func decodeScalarFields(payload []byte) (map[string]string, error) {
	fields := make(map[string]string)
	d := jx.DecodeBytes(payload)

	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			fields[key] = s
		case jx.Number:
			n, err := d.Num()
			if err != nil {
				return err
			}
			fields[key] = n.String()
		case jx.Bool:
			v, err := d.Bool()
			if err != nil {
				return err
			}
			if v {
				fields[key] = "true"
			} else {
				fields[key] = "false"
			}
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return fields, nil
}
