package scheduler

import (
	"context"
	"time"

	"github.com/newspulse/newspulse/internal/ports"
)

// IntervalScheduler fires a job on a fixed interval. One instance drives
// one job; the app runs two of them (incremental batches and clustering
// passes) on their own cadences.
type IntervalScheduler struct {
	interval    time.Duration
	fireOnStart bool
	stop        chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a ticker-backed scheduler.
func NewIntervalScheduler(interval time.Duration, fireOnStart bool) *IntervalScheduler {
	return &IntervalScheduler{interval: interval, fireOnStart: fireOnStart}
}

// Start begins ticking until Stop or ctx cancellation.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || s.interval <= 0 {
		return nil
	}

	if s.stop != nil {
		return nil
	}

	s.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		if s.fireOnStart {
			job(time.Now())
		}
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}
