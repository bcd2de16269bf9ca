package retention

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purgerStub struct {
	calls   atomic.Int64
	count   int64
	err     error
	horizon atomic.Value
}

func (p *purgerStub) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	p.calls.Add(1)
	p.horizon.Store(horizon)
	if p.err != nil {
		return 0, p.err
	}
	return p.count, nil
}

func TestSweepReturnsDeletedCount(t *testing.T) {
	purger := &purgerStub{count: 3}
	sweeper := NewSweeper(purger, 24*time.Hour, time.Hour)

	count := sweeper.Sweep(context.Background())
	assert.Equal(t, int64(3), count)
	assert.Equal(t, 24*time.Hour, purger.horizon.Load())
}

func TestSweepSwallowsStoreFailure(t *testing.T) {
	purger := &purgerStub{err: assert.AnError}
	sweeper := NewSweeper(purger, 24*time.Hour, time.Hour)

	count := sweeper.Sweep(context.Background())
	assert.Equal(t, int64(0), count)
}

func TestRunSweepsOnIntervalUntilCancelled(t *testing.T) {
	purger := &purgerStub{count: 1}
	sweeper := NewSweeper(purger, 24*time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return purger.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestRunKeepsScheduleAfterFailure(t *testing.T) {
	purger := &purgerStub{err: assert.AnError}
	sweeper := NewSweeper(purger, 24*time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	// A failing purge must not stop the recurring schedule.
	require.Eventually(t, func() bool {
		return purger.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}
