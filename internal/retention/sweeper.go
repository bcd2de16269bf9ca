package retention

import (
	"context"
	"log"
	"time"

	"whisper-service/internal/observability"
)

// MessagePurger is the store operation the sweeper runs. Satisfied by
// repositories.MessageRepo.
type MessagePurger interface {
	PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// Sweeper deletes messages older than the retention horizon, once at start
// and then on a fixed interval. A failed sweep is logged and retried at the
// next tick; failures never stop the schedule.
type Sweeper struct {
	purger   MessagePurger
	horizon  time.Duration
	interval time.Duration
}

// NewSweeper constructs a Sweeper.
func NewSweeper(purger MessagePurger, horizon, interval time.Duration) *Sweeper {
	return &Sweeper{purger: purger, horizon: horizon, interval: interval}
}

// Run sweeps on every interval until ctx is cancelled. The startup sweep is
// a separate synchronous Sweep call so retention-bounded queries never see
// rows past the horizon.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one purge and returns the number of rows deleted.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	count, err := s.purger.PurgeOlderThan(ctx, s.horizon)
	if err != nil {
		log.Printf("retention sweep failed: %v", err)
		return 0
	}
	if count > 0 {
		log.Printf("retention sweep removed %d message(s) older than %s", count, s.horizon)
	}
	observability.AddMessagesPurged(count)
	return count
}
