package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/newspulse/newspulse/internal/domain"
	"github.com/newspulse/newspulse/internal/ports"
)

// Jobs wires the two recurring engines to their scheduler drivers.
// Runs are fire-and-forget: a run that exceeds its time budget or loses
// the lock race is abandoned and retried on the next tick, relying on the
// idempotent store writes for safety.
type Jobs struct {
	assignDriver  ports.Scheduler
	clusterDriver ports.Scheduler
	assigner      *Assigner
	clusterer     *Clusterer
	timeout       time.Duration
	location      *time.Location
	logger        *slog.Logger
}

// NewJobs builds the job wiring.
func NewJobs(assignDriver, clusterDriver ports.Scheduler, assigner *Assigner, clusterer *Clusterer,
	timeout time.Duration, location *time.Location, logger *slog.Logger) *Jobs {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		assignDriver:  assignDriver,
		clusterDriver: clusterDriver,
		assigner:      assigner,
		clusterer:     clusterer,
		timeout:       timeout,
		location:      location,
		logger:        logger,
	}
}

// Start registers both jobs with their drivers.
func (j *Jobs) Start(ctx context.Context) error {
	if j.assignDriver != nil && j.assigner != nil {
		if err := j.assignDriver.Start(ctx, j.runAssign(ctx)); err != nil {
			return err
		}
	}
	if j.clusterDriver != nil && j.clusterer != nil {
		if err := j.clusterDriver.Start(ctx, j.runCluster(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// Stop tears down both drivers.
func (j *Jobs) Stop(ctx context.Context) error {
	var firstErr error
	if j.assignDriver != nil {
		firstErr = j.assignDriver.Stop(ctx)
	}
	if j.clusterDriver != nil {
		if err := j.clusterDriver.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (j *Jobs) runAssign(ctx context.Context) func(time.Time) {
	return func(time.Time) {
		runCtx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		if _, err := j.assigner.RunBatch(runCtx); err != nil {
			j.logger.Error("incremental batch failed, will retry next cycle", "error", err)
		}
	}
}

func (j *Jobs) runCluster(ctx context.Context) func(time.Time) {
	return func(trigger time.Time) {
		runCtx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		date := domain.NewsDateOf(trigger.In(j.location))
		err := j.clusterer.RunPass(runCtx, date)
		switch {
		case errors.Is(err, domain.ErrLockBusy):
			j.logger.Info("clustering pass deferred to next cycle", "date", date)
		case err != nil:
			j.logger.Error("clustering pass failed, will retry next cycle", "date", date, "error", err)
		}
	}
}
