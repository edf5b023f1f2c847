// Package gallery exposes read access to photo sessions and their photos.
// Session discovery, rendering, and file delivery live elsewhere; the order
// core only needs to validate that a selection belongs to a session.
package gallery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrSessionNotFound is returned when a session id resolves to nothing.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is a photo shoot delivered to a guest, owned by one studio.
type Session struct {
	ID        string
	StudioID  string
	Name      string
	ExpiresAt *time.Time
}

// Photo is a single deliverable image within a session.
type Photo struct {
	ID        string
	SessionID string
	FileKey   string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Repository provides the session/photo reads the order core depends on.
type Repository interface {
	SessionByID(ctx context.Context, id string) (*Session, error)
	// PhotosByIDs returns the photos matching the given ids in one batch.
	// Missing ids are simply absent from the result; the caller decides
	// whether that is an error.
	PhotosByIDs(ctx context.Context, ids []string) ([]Photo, error)
}
