package permissions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/pkg/observability"
)

// ExpiredRowDeleter is the slice of the store the sweeper uses.
type ExpiredRowDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes expired guest rows. Sweeping is hygiene, not
// enforcement: the resolver filters expired rows on every read, so a stale
// or stopped sweeper never extends access past expiry.
type Sweeper struct {
	store    ExpiredRowDeleter
	interval time.Duration
	logger   *observability.Logger
	metrics  *Metrics

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// NewSweeper creates a sweeper deleting expired rows every interval.
func NewSweeper(store ExpiredRowDeleter, interval time.Duration, logger *observability.Logger, metrics *Metrics) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
// Blocks; run it in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// SweepOnce deletes currently expired rows and returns the count removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	runID := uuid.NewString()
	start := time.Now()

	removed, err := s.store.DeleteExpired(ctx, start)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveSweep(removed, err)
	}
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"sweep_id":     runID,
			"rows_removed": removed,
			"duration_ms":  time.Since(start).Milliseconds(),
		}).Info("expired guest rows removed")
	}
	return removed, nil
}

// LastRun reports the time and outcome of the most recent sweep. Zero time
// means no sweep has run yet.
func (s *Sweeper) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
