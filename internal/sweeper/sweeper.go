// Package sweeper periodically removes expired, never-purchased photos.
// Purchased photos are kept forever because order items reference them.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store deletes expired photos and reports how many went away.
type Store interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the expiry sweep on a fixed interval.
type Sweeper struct {
	store    Store
	interval time.Duration
	lg       *zap.Logger
	now      func() time.Time
}

// New creates a Sweeper that sweeps every interval.
func New(store Store, interval time.Duration, lg *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		lg:       lg,
		now:      time.Now,
	}
}

// Run sweeps immediately, then on every tick until ctx is cancelled. A failed
// sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		s.lg.Error("photo expiry sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.lg.Info("expired photos deleted", zap.Int64("count", deleted))
	}
}
