package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockStore struct {
	cutoffs []time.Time
	err     error
}

func (m *mockStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return 2, m.err
}

func TestSweepUsesCurrentTimeAsCutoff(t *testing.T) {
	store := &mockStore{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := New(store, time.Hour, zaptest.NewLogger(t))
	s.now = func() time.Time { return now }

	s.sweep(context.Background())

	require.Len(t, store.cutoffs, 1)
	assert.Equal(t, now, store.cutoffs[0])
}

func TestSweepErrorDoesNotPanic(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	s := New(store, time.Hour, zaptest.NewLogger(t))

	s.sweep(context.Background())
	require.Len(t, store.cutoffs, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &mockStore{}
	s := New(store, 10*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	// Immediate sweep plus at least one tick.
	assert.GreaterOrEqual(t, len(store.cutoffs), 2)
}
