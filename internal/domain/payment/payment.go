// Package payment defines the canonical, provider-agnostic payment event and
// the verification contract every provider integration implements.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Outcome is the provider-agnostic result a notification reports.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Event is a verified payment notification in canonical form. Events are
// produced exclusively by a Verifier; they are never constructed from
// unverified input.
type Event struct {
	OrderID        string
	Provider       string
	TransactionID  string
	Outcome        Outcome
	Amount         decimal.Decimal
	SignatureValid bool
}

// Verifier authenticates a raw provider payload and normalizes it into an
// Event. Implementations read the order ledger only to confirm the referenced
// order exists; they never mutate state.
type Verifier interface {
	Provider() string
	Verify(ctx context.Context, payload []byte) (*Event, error)
}

// VerifyReason classifies why a payload failed verification.
type VerifyReason string

const (
	// ReasonMalformed means the payload could not be parsed at all.
	ReasonMalformed VerifyReason = "malformed_payload"
	// ReasonBadSignature means the recomputed signature did not match.
	ReasonBadSignature VerifyReason = "bad_signature"
	// ReasonUnknownOrder means the order reference resolved to nothing.
	ReasonUnknownOrder VerifyReason = "unknown_order"
	// ReasonUnsupported means the payload carried a status the integration
	// does not recognize.
	ReasonUnsupported VerifyReason = "unsupported_status"
)

// VerificationError reports an unauthentic or unresolvable notification.
// It is always security-relevant and must be logged; the referenced order,
// if any, is left untouched.
type VerificationError struct {
	Provider string
	Reason   VerifyReason
	Detail   string
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: verification failed: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: verification failed: %s: %s", e.Provider, e.Reason, e.Detail)
}
