// Package pricing computes itemized quotes for photo selections.
//
// The engine is a pure function over the active pricing policy of a studio:
// no I/O, no side effects, deterministic for the same inputs. It is called
// both at checkout time and for audit recomputation of historical orders.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrNoActivePolicy is returned by Repository implementations when a studio
// has no active pricing policy. Callers fall back to DefaultPolicy: pricing
// must never block checkout because of missing configuration.
var ErrNoActivePolicy = errors.New("no active pricing policy")

// Policy defines how a studio prices photo selections. At most one policy is
// active per studio at a time; superseded versions are retained for audit but
// never read by the engine.
type Policy struct {
	ID            string
	StudioID      string
	PricePerUnit  decimal.Decimal
	BulkThreshold int
	BulkPercent   decimal.Decimal
}

// DefaultPolicy is the platform fallback applied when a studio has not
// configured pricing: a flat per-photo price with no bulk discount.
func DefaultPolicy() *Policy {
	return &Policy{
		PricePerUnit: decimal.NewFromInt(10),
	}
}

// Quote is an itemized price for a photo selection. Final = Total - Discount
// always holds; Discount and Final are rounded half-up to 2 decimal places,
// intermediate arithmetic is exact.
type Quote struct {
	PricePerUnit decimal.Decimal
	ItemCount    int
	Total        decimal.Decimal
	Discount     decimal.Decimal
	Final        decimal.Decimal
}

// Repository provides the active pricing policy per studio.
type Repository interface {
	// ActiveForStudio returns the studio's active policy, or ErrNoActivePolicy.
	ActiveForStudio(ctx context.Context, studioID string) (*Policy, error)
}

// ForSelection prices a selection of itemCount photos under the given policy.
// A nil policy means the platform default. itemCount must be positive; the
// caller validates the selection itself (existence, session ownership).
func ForSelection(policy *Policy, itemCount int) Quote {
	if policy == nil {
		policy = DefaultPolicy()
	}

	count := decimal.NewFromInt(int64(itemCount))
	total := policy.PricePerUnit.Mul(count)

	discount := decimal.Zero
	if policy.BulkThreshold > 0 && itemCount >= policy.BulkThreshold {
		discount = total.Mul(policy.BulkPercent).Div(hundred)
	}
	discount = discount.Round(2)

	// Final = total - discount, floored at zero. Rounding happens once, at
	// the end, so repeated quoting cannot drift.
	final := total.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Quote{
		PricePerUnit: policy.PricePerUnit,
		ItemCount:    itemCount,
		Total:        total.Round(2),
		Discount:     discount,
		Final:        final.Round(2),
	}
}
