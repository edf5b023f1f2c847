package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofroom/proofroom/internal/domain/gallery"
)

const (
	selectSessionSQL = `SELECT id, studio_id, name, expires_at
		FROM sessions WHERE id = $1`

	selectPhotosByIDsSQL = `SELECT id, session_id, file_key, created_at, expires_at
		FROM photos WHERE id = ANY($1)`

	// Expired photos that were never purchased are eligible for deletion;
	// purchased ones stay because order items reference them.
	deleteExpiredPhotosSQL = `DELETE FROM photos
		WHERE expires_at IS NOT NULL AND expires_at < $1
		AND NOT EXISTS (SELECT 1 FROM order_items oi WHERE oi.photo_id = photos.id)`
)

var _ gallery.Repository = (*GalleryRepository)(nil)

// GalleryRepository implements gallery.Repository backed by PostgreSQL.
type GalleryRepository struct {
	pool *pgxpool.Pool
}

// NewGalleryRepository returns a GalleryRepository that uses the given pool.
func NewGalleryRepository(pool *pgxpool.Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// SessionByID returns the session or gallery.ErrSessionNotFound.
func (r *GalleryRepository) SessionByID(ctx context.Context, id string) (*gallery.Session, error) {
	rows, err := r.pool.Query(ctx, selectSessionSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting session %q: %w", id, err)
	}

	sess, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (gallery.Session, error) {
		var s gallery.Session
		err := row.Scan(&s.ID, &s.StudioID, &s.Name, &s.ExpiresAt)
		return s, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gallery.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session %q: %w", id, err)
	}
	return &sess, nil
}

// PhotosByIDs fetches all listed photos in one batch; missing ids are simply
// absent from the result.
func (r *GalleryRepository) PhotosByIDs(ctx context.Context, ids []string) ([]gallery.Photo, error) {
	rows, err := r.pool.Query(ctx, selectPhotosByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting photos: %w", err)
	}

	photos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gallery.Photo, error) {
		var p gallery.Photo
		err := row.Scan(&p.ID, &p.SessionID, &p.FileKey, &p.CreatedAt, &p.ExpiresAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting photos: %w", err)
	}
	return photos, nil
}

// DeleteExpired removes unpurchased photos whose expiry passed before the
// given cutoff and reports how many were deleted.
func (r *GalleryRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteExpiredPhotosSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired photos: %w", err)
	}
	return tag.RowsAffected(), nil
}
