package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofroom/proofroom/internal/notify"
)

const insertNotificationSQL = `INSERT INTO notifications (id, order_id, kind, payload, created_at)
	VALUES ($1, $2, $3, $4, $5)`

var _ notify.Store = (*NotificationRepository)(nil)

// NotificationRepository persists in-app notification rows.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository returns a NotificationRepository that uses the
// given pool.
func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Insert stores one notification row with a JSONB payload.
func (r *NotificationRepository) Insert(ctx context.Context, ev notify.Event) error {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("studio_id", func(e *jx.Encoder) { e.Str(ev.StudioID) })
		e.Field("guest_email", func(e *jx.Encoder) { e.Str(ev.GuestEmail) })
		e.Field("provider", func(e *jx.Encoder) { e.Str(ev.Provider) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(ev.Amount.StringFixed(2)) })
	})

	_, err := r.pool.Exec(ctx, insertNotificationSQL,
		uuid.New().String(), ev.OrderID, string(ev.Kind), e.Bytes(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting notification for order %q: %w", ev.OrderID, err)
	}
	return nil
}
