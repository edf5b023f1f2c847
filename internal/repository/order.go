package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofroom/proofroom/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (
		id, studio_id, session_id,
		guest_email, guest_name, guest_phone,
		payment_method, total_amount, discount, final_amount,
		status, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, photo_id, unit_price)
		VALUES ($1, $2, $3)`

	selectOrderSQL = `SELECT id, studio_id, session_id,
		guest_email, guest_name, guest_phone,
		payment_method, total_amount, discount, final_amount,
		status, payment_status, created_at, processed_at, completed_at
		FROM orders WHERE id = $1`

	selectOrderForUpdateSQL = selectOrderSQL + ` FOR UPDATE`

	selectOrderItemsSQL = `SELECT photo_id, unit_price FROM order_items
		WHERE order_id = $1 ORDER BY photo_id`

	// The idempotency insert is the serialization point for redelivery:
	// exactly one transaction per (provider, txn id) observes an inserted row.
	insertIdempotencySQL = `INSERT INTO payment_idempotency
		(provider, provider_txn_id, order_id, outcome, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_txn_id) DO NOTHING`

	markIdempotencyConflictSQL = `UPDATE payment_idempotency SET result = $3
		WHERE provider = $1 AND provider_txn_id = $2`

	applyOutcomeSQL = `UPDATE orders
		SET status = $2, payment_status = $3, processed_at = $4
		WHERE id = $1`

	manualUpdateSQL = `UPDATE orders
		SET status = $2, payment_status = $3, processed_at = $4, completed_at = $5
		WHERE id = $1 AND status = $6 AND payment_status = $7`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists the order and its items in one transaction: all rows
// become visible together or not at all.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.StudioID, o.SessionID,
		o.Guest.Email, o.Guest.Name, o.Guest.Phone,
		string(o.PaymentMethod), o.Total, o.Discount, o.Final,
		string(o.Status), string(o.PaymentStatus), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, insertOrderItemSQL, o.ID, item.PhotoID, item.UnitPrice); err != nil {
			return fmt.Errorf("creating item %q of order %q: %w", item.PhotoID, o.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with its items, or order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := queryOrder(ctx, r.pool, selectOrderSQL, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, selectOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("loading items of order %q: %w", id, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.PhotoID, &it.UnitPrice)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading items of order %q: %w", id, err)
	}
	o.Items = items

	return o, nil
}

// ApplyPaymentOutcome executes the idempotency check-and-set and the order
// update in a single transaction. The flow:
//
//  1. Insert the idempotency record; a conflict means this provider
//     transaction was already applied, so the order is not even read.
//  2. Lock the order row (FOR UPDATE). Two providers racing on the same
//     order serialize here regardless of their distinct idempotency keys.
//  3. Run the state machine. A terminal-state contradiction keeps the
//     idempotency record (marked conflict, for manual review) and leaves the
//     order untouched.
//  4. Persist the change and commit. The webhook handler acknowledges the
//     provider only after this commit.
func (r *OrderRepository) ApplyPaymentOutcome(ctx context.Context, req order.ApplyRequest) (*order.Applied, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.now().UTC()

	tag, err := tx.Exec(ctx, insertIdempotencySQL,
		req.Provider, req.TransactionID, req.OrderID,
		string(req.Outcome), string(order.ResultApplied), now,
	)
	if err != nil {
		return nil, fmt.Errorf("recording transaction %s/%s: %w", req.Provider, req.TransactionID, err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied; redelivery is a no-op.
		return &order.Applied{Result: order.ResultDuplicate}, nil
	}

	o, err := queryOrder(ctx, tx, selectOrderForUpdateSQL, req.OrderID)
	if err != nil {
		return nil, err
	}

	change, err := order.ApplyOutcome(o, req.Outcome, now)
	if err != nil {
		if errors.Is(err, order.ErrConflict) {
			if _, err := tx.Exec(ctx, markIdempotencyConflictSQL,
				req.Provider, req.TransactionID, string(order.ResultConflict),
			); err != nil {
				return nil, fmt.Errorf("marking conflict %s/%s: %w", req.Provider, req.TransactionID, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit conflict record: %w", err)
			}
			return &order.Applied{Result: order.ResultConflict}, nil
		}
		return nil, err
	}

	o.Apply(change)

	_, err = tx.Exec(ctx, applyOutcomeSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.ProcessedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("updating order %q: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit outcome for order %q: %w", o.ID, err)
	}

	return &order.Applied{Result: order.ResultApplied, Order: o}, nil
}

// UpdateStatus persists a staff edit, guarded by the statuses the caller
// validated against so a concurrent edit forces a retry instead of silently
// overwriting.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, expectStatus order.Status, expectPayment order.PaymentStatus) error {
	tag, err := r.pool.Exec(ctx, manualUpdateSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.ProcessedAt, o.CompletedAt,
		string(expectStatus), string(expectPayment),
	)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(order.ErrNotFound, "order %q changed concurrently or does not exist", o.ID)
	}
	return nil
}

// querier is the subset of pgx shared by pool and transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		method        string
		status        string
		paymentStatus string
	)
	err := row.Scan(
		&o.ID, &o.StudioID, &o.SessionID,
		&o.Guest.Email, &o.Guest.Name, &o.Guest.Phone,
		&method, &o.Total, &o.Discount, &o.Final,
		&status, &paymentStatus, &o.CreatedAt, &o.ProcessedAt, &o.CompletedAt,
	)
	o.PaymentMethod = order.Method(method)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	return o, err
}
