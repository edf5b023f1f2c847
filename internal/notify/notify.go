// Package notify emits domain outcomes to the notification fan-out. Actual
// delivery (email) is handled by an external worker; this package only
// records the in-app notification row and logs the event.
package notify

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/shopspring/decimal"
)

// Kind classifies a notification event.
type Kind string

const (
	// KindPaymentReceived is emitted once per order when payment is confirmed.
	KindPaymentReceived Kind = "payment_received"
)

// Event is a domain outcome to fan out.
type Event struct {
	Kind       Kind
	OrderID    string
	StudioID   string
	GuestEmail string
	Amount     decimal.Decimal
	Provider   string
}

// Emitter receives domain outcomes. Implementations must be safe to call from
// request handlers; failures are the caller's to log, never to roll back.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Store persists notification rows for the in-app feed.
type Store interface {
	Insert(ctx context.Context, ev Event) error
}

// Service is the default Emitter: one row in the notification store plus a
// structured log line.
type Service struct {
	store Store
	lg    *zap.Logger
}

// NewService creates a notification Service.
func NewService(store Store, lg *zap.Logger) *Service {
	return &Service{store: store, lg: lg}
}

// Emit records the event.
func (s *Service) Emit(ctx context.Context, ev Event) error {
	if err := s.store.Insert(ctx, ev); err != nil {
		return errors.Wrap(err, "insert notification")
	}
	s.lg.Info("notification emitted",
		zap.String("kind", string(ev.Kind)),
		zap.String("order_id", ev.OrderID),
		zap.String("studio_id", ev.StudioID),
	)
	return nil
}
