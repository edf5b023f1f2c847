package order

import (
	"time"

	"github.com/proofroom/proofroom/internal/domain/payment"
)

// Change is the mutation a payment outcome implies for an order. Zero-valued
// fields mean "leave as is".
type Change struct {
	PaymentStatus PaymentStatus
	Status        Status
	ProcessedAt   *time.Time
}

// ApplyOutcome computes the ledger mutation for a verified payment outcome
// against the order's current state. It is pure: the caller runs it inside
// the transaction that holds the order row lock and persists the result.
//
// Rules:
//   - confirmed on a pending or failed payment marks the order paid; if
//     fulfillment is still pending it advances to processing and ProcessedAt
//     is stamped.
//   - failed or cancelled marks the payment failed and leaves fulfillment
//     untouched, so the guest can re-attempt payment. A failed payment never
//     moves a completed order backwards.
//   - any outcome against a terminal payment status (paid, refunded) is a
//     conflict: the order is not regressed and ErrConflict is returned for
//     manual review. A second confirmation is a double payment attempt and
//     is treated the same way.
func ApplyOutcome(o *Order, outcome payment.Outcome, now time.Time) (Change, error) {
	if o.PaymentStatus.Terminal() {
		return Change{}, ErrConflict
	}

	switch outcome {
	case payment.OutcomeConfirmed:
		ch := Change{PaymentStatus: PaymentPaid}
		if o.Status == StatusPending {
			ch.Status = StatusProcessing
			ch.ProcessedAt = &now
		}
		return ch, nil

	case payment.OutcomeFailed, payment.OutcomeCancelled:
		if o.PaymentStatus == PaymentFailed {
			// Already failed; nothing to change.
			return Change{}, nil
		}
		return Change{PaymentStatus: PaymentFailed}, nil

	default:
		return Change{}, &InvalidTransitionError{
			Field: "paymentStatus",
			From:  string(o.PaymentStatus),
			To:    string(outcome),
		}
	}
}

// Apply mutates the order in place with the given change.
func (o *Order) Apply(ch Change) {
	if ch.PaymentStatus != "" {
		o.PaymentStatus = ch.PaymentStatus
	}
	if ch.Status != "" {
		o.Status = ch.Status
	}
	if ch.ProcessedAt != nil {
		o.ProcessedAt = ch.ProcessedAt
	}
}
