// Package reconcile converges order payment state against verified provider
// events. It is the only consumer of canonical payment events and the only
// caller of the ledger's payment-driven mutation path.
package reconcile

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/proofroom/proofroom/internal/domain/order"
	"github.com/proofroom/proofroom/internal/domain/payment"
	"github.com/proofroom/proofroom/internal/notify"
)

// Outcome is the result of handling one verified payment event.
type Outcome string

const (
	// OutcomeConfirmed means the order is now paid (and processing).
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeFailed means the payment attempt was recorded as failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeDuplicateIgnored means this provider transaction was already
	// applied; nothing changed.
	OutcomeDuplicateIgnored Outcome = "duplicate_ignored"
	// OutcomeRejected means the event contradicted a terminal payment state
	// and was recorded for manual review without touching the order.
	OutcomeRejected Outcome = "rejected"
)

// Ledger is the payment-driven mutation entry point of the order ledger.
type Ledger interface {
	ApplyPaymentOutcome(ctx context.Context, req order.ApplyRequest) (*order.Applied, error)
}

// Engine applies canonical payment events to the ledger under the idempotency
// guarantee and emits domain outcomes.
type Engine struct {
	ledger     Ledger
	emitter    notify.Emitter
	lg         *zap.Logger
	tracer     trace.Tracer
	reconciled metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithTelemetry instruments the engine with a span per handled event and a
// counter of reconciliation outcomes.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer("reconcile")
		if c, err := mp.Meter("reconcile").Int64Counter("payment.reconciled",
			metric.WithDescription("Payment events reconciled, by provider and outcome."),
		); err == nil {
			e.reconciled = c
		}
	}
}

// New creates a reconciliation Engine. Telemetry is a no-op unless
// WithTelemetry is given.
func New(ledger Ledger, emitter notify.Emitter, lg *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		ledger:  ledger,
		emitter: emitter,
		lg:      lg,
		tracer:  tracenoop.NewTracerProvider().Tracer("reconcile"),
	}
	e.reconciled, _ = metricnoop.NewMeterProvider().Meter("reconcile").Int64Counter("payment.reconciled")
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle applies one verified event. The ledger performs the idempotency
// check-and-set and the order update in a single transaction, so redelivery
// and races between concurrent deliveries are safe. Every call is logged with
// provider, transaction id, and resulting outcome: this log is the durable
// audit trail tying provider money movement to ledger state.
func (e *Engine) Handle(ctx context.Context, ev *payment.Event) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.Handle", trace.WithAttributes(
		attribute.String("payment.provider", ev.Provider),
		attribute.String("payment.transaction_id", ev.TransactionID),
	))
	defer span.End()

	applied, err := e.ledger.ApplyPaymentOutcome(ctx, order.ApplyRequest{
		OrderID:       ev.OrderID,
		Provider:      ev.Provider,
		TransactionID: ev.TransactionID,
		Outcome:       ev.Outcome,
	})
	if err != nil {
		e.lg.Error("reconciliation failed",
			zap.String("provider", ev.Provider),
			zap.String("transaction_id", ev.TransactionID),
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
		span.RecordError(err)
		return "", errors.Wrap(err, "apply payment outcome")
	}

	outcome := e.classify(applied, ev)
	e.reconciled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", ev.Provider),
		attribute.String("outcome", string(outcome)),
	))

	e.lg.Info("payment event reconciled",
		zap.String("provider", ev.Provider),
		zap.String("transaction_id", ev.TransactionID),
		zap.String("order_id", ev.OrderID),
		zap.String("event_outcome", string(ev.Outcome)),
		zap.String("outcome", string(outcome)),
	)

	if outcome == OutcomeConfirmed {
		e.emitPaymentReceived(ctx, ev, applied.Order)
	}

	return outcome, nil
}

func (e *Engine) classify(applied *order.Applied, ev *payment.Event) Outcome {
	switch applied.Result {
	case order.ResultDuplicate:
		return OutcomeDuplicateIgnored
	case order.ResultConflict:
		return OutcomeRejected
	default:
		if ev.Outcome == payment.OutcomeConfirmed {
			return OutcomeConfirmed
		}
		return OutcomeFailed
	}
}

// emitPaymentReceived fans out the confirmation. Emitter failures are logged
// and dropped: the ledger transaction has already committed and notification
// delivery must never unwind financial truth.
func (e *Engine) emitPaymentReceived(ctx context.Context, ev *payment.Event, o *order.Order) {
	emitEv := notify.Event{
		Kind:     notify.KindPaymentReceived,
		OrderID:  ev.OrderID,
		Provider: ev.Provider,
		Amount:   ev.Amount,
	}
	if o != nil {
		emitEv.StudioID = o.StudioID
		emitEv.GuestEmail = o.Guest.Email
		emitEv.Amount = o.Final
	}
	if err := e.emitter.Emit(ctx, emitEv); err != nil {
		e.lg.Error("notification emit failed",
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
	}
}
