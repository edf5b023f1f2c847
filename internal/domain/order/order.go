// Package order owns the order ledger: order and item persistence contracts,
// the fulfillment and payment state machines, and the rules for applying
// verified payment outcomes. It is the single source of truth for an order's
// financial state.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/proofroom/proofroom/internal/domain/payment"
)

// Method enumerates the supported payment methods.
type Method string

const (
	MethodCash      Method = "cash"
	MethodRobokassa Method = "robokassa"
	MethodTinkoff   Method = "tinkoff"
)

// ErrUnsupportedPaymentMethod is returned for a payment method outside the
// supported set.
var ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")

// ParseMethod validates and converts a raw payment method string.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCash, MethodRobokassa, MethodTinkoff:
		return m, nil
	default:
		return "", ErrUnsupportedPaymentMethod
	}
}

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further fulfillment transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the edge s -> next is a legal fulfillment
// transition: pending -> processing -> completed, with cancelled reachable
// from pending or processing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Terminal reports whether payment events may no longer move this state.
// paid and refunded are sinks for the reconciliation core; the refund flow
// itself is a separate process.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentRefunded
}

// CanTransitionTo reports whether the edge s -> next is legal:
// pending -> paid, pending -> failed, failed -> paid (re-attempt),
// paid -> refunded.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentPaid || next == PaymentFailed
	case PaymentFailed:
		return next == PaymentPaid
	case PaymentPaid:
		return next == PaymentRefunded
	default:
		return false
	}
}

// ParseStatus validates a raw fulfillment status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", errors.Errorf("unknown order status %q", s)
	}
}

// ParsePaymentStatus validates a raw payment status string.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return st, nil
	default:
		return "", errors.Errorf("unknown payment status %q", s)
	}
}

// GuestContact is the guest's delivery contact captured at checkout.
type GuestContact struct {
	Email string
	Name  string
	Phone string
}

// Item is a single photo line within an order. UnitPrice is the price
// snapshot taken at order time; it is never recomputed, so historical orders
// are immune to later policy changes.
type Item struct {
	PhotoID   string
	UnitPrice decimal.Decimal
}

// Order is a guest's request to purchase a set of photos at a snapshot price.
// Created once in pending/pending, mutated only through defined transitions,
// never deleted by this core.
type Order struct {
	ID            string
	StudioID      string
	SessionID     string
	Guest         GuestContact
	PaymentMethod Method
	Items         []Item
	Total         decimal.Decimal
	Discount      decimal.Decimal
	Final         decimal.Decimal
	Status        Status
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	CompletedAt   *time.Time
}

// Sentinel errors shared across the ledger.
var (
	// ErrNotFound is returned when an order id resolves to nothing.
	ErrNotFound = errors.New("order not found")
	// ErrEmptySelection is returned when a checkout carries no photos.
	ErrEmptySelection = errors.New("photo selection is empty")
	// ErrConflict is returned when a payment event contradicts an order
	// already in a terminal payment state. The order is never regressed;
	// the conflict is surfaced for manual review.
	ErrConflict = errors.New("payment outcome conflicts with terminal payment status")
	// ErrManualPaymentEdit is returned when staff attempt to edit the
	// payment status of a non-cash order. Provider payments are ground
	// truth owned by the provider.
	ErrManualPaymentEdit = errors.New("payment status of provider-paid orders cannot be edited manually")
	// ErrTenantMismatch is returned when an actor operates on an order
	// outside their studio.
	ErrTenantMismatch = errors.New("order belongs to another studio")
)

// InvalidSelectionError reports a photo selection that does not match the
// session: a missing photo, a photo from another session, or an unknown
// session.
type InvalidSelectionError struct {
	SessionID string
	PhotoID   string
	Reason    string
}

func (e *InvalidSelectionError) Error() string {
	if e.PhotoID != "" {
		return fmt.Sprintf("invalid selection: photo %s: %s", e.PhotoID, e.Reason)
	}
	return fmt.Sprintf("invalid selection: session %s: %s", e.SessionID, e.Reason)
}

// InvalidTransitionError reports an illegal state-machine edge. Attempts on
// terminal states are rejected, not silently ignored, so callers can tell
// "already there" from "illegal edit".
type InvalidTransitionError struct {
	Field string // "status" or "paymentStatus"
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Field, e.From, e.To)
}

// AppliedResult classifies the effect of applying a payment outcome.
type AppliedResult string

const (
	// ResultApplied means the order was mutated by this event.
	ResultApplied AppliedResult = "applied"
	// ResultDuplicate means the provider transaction was already recorded;
	// the order was not touched.
	ResultDuplicate AppliedResult = "duplicate"
	// ResultConflict means the event contradicted a terminal payment state;
	// the transaction was recorded for audit but the order was not touched.
	ResultConflict AppliedResult = "conflict"
)

// ApplyRequest identifies one provider transaction to apply to one order.
// Provider plus TransactionID is the idempotency key.
type ApplyRequest struct {
	OrderID       string
	Provider      string
	TransactionID string
	Outcome       payment.Outcome
}

// Applied is the outcome of a check-and-apply. Order carries the post-apply
// snapshot when the result is ResultApplied, nil otherwise.
type Applied struct {
	Result AppliedResult
	Order  *Order
}

// StatusUpdate carries a staff-driven status edit. Nil fields are untouched.
type StatusUpdate struct {
	Status        *Status
	PaymentStatus *PaymentStatus
}

// Repository defines persistence for orders. ApplyPaymentOutcome must execute
// the idempotency check-and-set and the order update in one atomic unit so
// concurrent deliveries of the same provider transaction cannot both win.
type Repository interface {
	// Create persists the order and its items in one transaction.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ApplyPaymentOutcome(ctx context.Context, req ApplyRequest) (*Applied, error)
	// UpdateStatus persists a manual edit, guarded by the expected current
	// statuses so concurrent edits cannot clobber each other.
	UpdateStatus(ctx context.Context, o *Order, expectStatus Status, expectPayment PaymentStatus) error
}

// Finder is the read-only lookup payment verifiers use to confirm a provider's
// order reference resolves to a real order.
type Finder interface {
	GetByID(ctx context.Context, id string) (*Order, error)
}
