package order

import (
	"context"
	"net/mail"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/proofroom/proofroom/internal/domain/auth"
	"github.com/proofroom/proofroom/internal/domain/gallery"
	"github.com/proofroom/proofroom/internal/domain/pricing"
)

// ErrInvalidGuestEmail is returned when the checkout contact email does not parse.
var ErrInvalidGuestEmail = errors.New("invalid guest email")

// CreateOrderRequest holds the input for checkout.
type CreateOrderRequest struct {
	SessionID     string
	Guest         GuestContact
	PhotoIDs      []string
	PaymentMethod string
}

// Ledger encapsulates order business logic: checkout, payment-driven
// mutation, and staff-driven status edits. The studio an order belongs to is
// always derived from the session, never from caller-supplied identifiers.
type Ledger struct {
	orders   Repository
	gallery  gallery.Repository
	policies pricing.Repository
	now      func() time.Time
}

// NewLedger creates a Ledger with the required dependencies.
func NewLedger(orders Repository, g gallery.Repository, policies pricing.Repository) *Ledger {
	return &Ledger{
		orders:   orders,
		gallery:  g,
		policies: policies,
		now:      time.Now,
	}
}

// CreateOrder validates the selection against the session, quotes the price
// under the studio's active policy, and persists the order with its item
// price snapshots in one transaction. The new order starts pending/pending.
func (l *Ledger) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	method, err := ParseMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if _, err := mail.ParseAddress(req.Guest.Email); err != nil {
		return nil, ErrInvalidGuestEmail
	}

	if len(req.PhotoIDs) == 0 {
		return nil, ErrEmptySelection
	}

	sess, err := l.gallery.SessionByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, gallery.ErrSessionNotFound) {
			return nil, &InvalidSelectionError{SessionID: req.SessionID, Reason: "session not found"}
		}
		return nil, errors.Wrap(err, "get session")
	}

	// Deduplicate the selection; ordering the same photo twice is not a
	// second line item.
	ids := dedupe(req.PhotoIDs)

	photos, err := l.gallery.PhotosByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get photos")
	}

	bySession := make(map[string]string, len(photos))
	for _, p := range photos {
		bySession[p.ID] = p.SessionID
	}
	for _, id := range ids {
		sid, ok := bySession[id]
		if !ok {
			return nil, &InvalidSelectionError{SessionID: sess.ID, PhotoID: id, Reason: "not found"}
		}
		if sid != sess.ID {
			return nil, &InvalidSelectionError{SessionID: sess.ID, PhotoID: id, Reason: "belongs to another session"}
		}
	}

	policy, err := l.policies.ActiveForStudio(ctx, sess.StudioID)
	if err != nil && !errors.Is(err, pricing.ErrNoActivePolicy) {
		return nil, errors.Wrap(err, "get pricing policy")
	}
	// A missing policy falls through as nil: ForSelection applies the
	// platform default, pricing never blocks checkout.

	quote := pricing.ForSelection(policy, len(ids))

	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{PhotoID: id, UnitPrice: quote.PricePerUnit}
	}

	o := &Order{
		ID:            uuid.New().String(),
		StudioID:      sess.StudioID,
		SessionID:     sess.ID,
		Guest:         req.Guest,
		PaymentMethod: method,
		Items:         items,
		Total:         quote.Total,
		Discount:      quote.Discount,
		Final:         quote.Final,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		CreatedAt:     l.now().UTC(),
	}
	if err := l.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	return o, nil
}

// ApplyPaymentOutcome is the single authorized entry point for payment-driven
// mutation, invoked only by the reconciliation engine. The repository runs
// the idempotency check-and-set and the order update in one transaction.
func (l *Ledger) ApplyPaymentOutcome(ctx context.Context, req ApplyRequest) (*Applied, error) {
	return l.orders.ApplyPaymentOutcome(ctx, req)
}

// GetOrder returns an order, scoped to the actor's studio.
func (l *Ledger) GetOrder(ctx context.Context, id string, actor auth.Actor) (*Order, error) {
	o, err := l.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.StudioID != "" && actor.StudioID != o.StudioID {
		return nil, ErrTenantMismatch
	}
	return o, nil
}

// SetManualStatus applies a staff-driven status edit. Fulfillment status may
// be edited for any order; payment status only for cash orders, since
// provider payments are reconciled from provider notifications.
func (l *Ledger) SetManualStatus(ctx context.Context, id string, actor auth.Actor, upd StatusUpdate) (*Order, error) {
	o, err := l.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.StudioID != "" && actor.StudioID != o.StudioID {
		return nil, ErrTenantMismatch
	}

	expectStatus, expectPayment := o.Status, o.PaymentStatus
	now := l.now().UTC()

	if upd.PaymentStatus != nil {
		if o.PaymentMethod != MethodCash {
			return nil, ErrManualPaymentEdit
		}
		next := *upd.PaymentStatus
		if !o.PaymentStatus.CanTransitionTo(next) {
			return nil, &InvalidTransitionError{
				Field: "paymentStatus",
				From:  string(o.PaymentStatus),
				To:    string(next),
			}
		}
		o.PaymentStatus = next
	}

	if upd.Status != nil {
		next := *upd.Status
		if !o.Status.CanTransitionTo(next) {
			return nil, &InvalidTransitionError{
				Field: "status",
				From:  string(o.Status),
				To:    string(next),
			}
		}
		o.Status = next
		switch next {
		case StatusProcessing:
			if o.ProcessedAt == nil {
				o.ProcessedAt = &now
			}
		case StatusCompleted:
			o.CompletedAt = &now
		}
	}

	if err := l.orders.UpdateStatus(ctx, o, expectStatus, expectPayment); err != nil {
		return nil, errors.Wrap(err, "update status")
	}
	return o, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
