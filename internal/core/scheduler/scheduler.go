// Package scheduler runs a destination's backup jobs one at a time, in
// priority order, translating the sync driver's progress stream into Store
// writes and applying the retry and stale-detection policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/immich-backup/backup/internal/core/errs"
	"github.com/immich-backup/backup/internal/core/logger"
	"github.com/immich-backup/backup/internal/core/model"
	"github.com/immich-backup/backup/internal/core/ports"
)

// Scheduler executes the eligible jobs of one destination, sequentially,
// applying the stale-job and retry policies described for JobScheduler.
type Scheduler struct {
	store  ports.Store
	driver ports.SyncDriver
	clock  ports.Clock
	logger *zap.Logger

	maxRetries    int
	statsInterval int
}

// New constructs a Scheduler. maxRetries and statsIntervalSeconds come from
// configuration (BACKUP_MAX_RETRIES, BACKUP_STATS_INTERVAL); statsInterval
// also doubles as the stale-detection threshold, per the spec's definition
// of "stats interval".
func New(store ports.Store, driver ports.SyncDriver, clock ports.Clock, maxRetries, statsIntervalSeconds int) *Scheduler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Scheduler{
		store:         store,
		driver:        driver,
		clock:         clock,
		logger:        logger.Named("core.scheduler"),
		maxRetries:    maxRetries,
		statsInterval: statsIntervalSeconds,
	}
}

// Run executes every eligible job of destinationID in (priority, id) order.
// With force=true, stale RUNNING jobs are eagerly demoted to INTERRUPTED
// before scheduling; without it, a stale RUNNING job halts the run with
// ErrStaleJobDetected and no state is mutated. dryRun is passed straight
// through to the sync driver for every job it runs.
func (s *Scheduler) Run(ctx context.Context, destinationID int64, force, dryRun bool) error {
	dest, err := s.store.GetDestination(ctx, fmt.Sprintf("%d", destinationID))
	if err != nil {
		return fmt.Errorf("loading destination %d: %w", destinationID, err)
	}

	stale, err := s.store.GetStaleJobs(ctx, s.statsInterval)
	if err != nil {
		return fmt.Errorf("checking for stale jobs: %w", err)
	}

	var destinationStale []*model.Job
	for _, job := range stale {
		if job.DestinationID == destinationID {
			destinationStale = append(destinationStale, job)
		}
	}

	if len(destinationStale) > 0 && !force {
		s.logger.Warn("stale running job detected, halting",
			zap.Int64("destination_id", destinationID),
			zap.Int("count", len(destinationStale)))
		return errs.ErrStaleJobDetected
	}

	for _, job := range destinationStale {
		if err := s.store.MarkJobInterrupted(ctx, job.ID); err != nil {
			return fmt.Errorf("demoting stale job %d: %w", job.ID, err)
		}
		s.logger.Info("demoted stale job to INTERRUPTED", zap.Int64("job_id", job.ID))
	}

	jobs, err := s.store.ListJobs(ctx, destinationID)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	for _, job := range jobs {
		if !job.Eligible(s.maxRetries) {
			continue
		}
		if err := s.runOne(ctx, dest, job, dryRun); err != nil {
			return err
		}
	}
	return nil
}

// runOne executes the four-step algorithm for a single job: transition to
// RUNNING, stream progress into the Store, then mark the terminal outcome.
func (s *Scheduler) runOne(ctx context.Context, dest *model.Destination, job *model.Job, dryRun bool) error {
	log := s.logger.With(zap.Int64("job_id", job.ID), zap.String("source_path", job.SourcePath))

	progress := model.Progress{
		BytesTransferred: job.BytesTransferred,
		BytesTotal:       job.BytesTotal,
		FilesTransferred: job.FilesTransferred,
		FilesTotal:       job.FilesTotal,
		Speed:            job.TransferSpeed,
	}
	if err := s.store.UpdateJob(ctx, job.ID, model.StatusRunning, progress, ""); err != nil {
		return fmt.Errorf("transitioning job %d to RUNNING: %w", job.ID, err)
	}
	log.Info("job started", zap.Bool("dry_run", dryRun))

	remote := fmt.Sprintf("%s-crypt:", dest.Name)
	progressCh, errCh := s.driver.Sync(ctx, job.SourcePath, remote, dryRun, s.statsInterval)

	var last model.Progress
	for ev := range progressCh {
		last = ev
		if err := s.store.UpdateJob(ctx, job.ID, model.StatusRunning, ev, ""); err != nil {
			log.Warn("progress write failed, continuing transfer", zap.Error(err))
		}
	}

	if err := <-errCh; err != nil {
		syncErr := errors.Join(errs.ErrSyncFailed, err)
		if uerr := s.store.UpdateJob(ctx, job.ID, model.StatusFailed, last, syncErr.Error()); uerr != nil {
			log.Error("failed to record job failure", zap.Error(uerr))
		}
		if rerr := s.store.IncrementRetryCount(ctx, job.ID); rerr != nil {
			log.Error("failed to increment retry count", zap.Error(rerr))
		}
		log.Warn("job failed", zap.Error(err))
		return syncErr
	}

	// A dry run never touched the bucket, so it completes the job row but
	// must not advance the destination's last_backup_at bookkeeping.
	if dryRun {
		if err := s.store.UpdateJob(ctx, job.ID, model.StatusCompleted, last, ""); err != nil {
			return fmt.Errorf("marking job %d completed (dry run): %w", job.ID, err)
		}
	} else if err := s.store.MarkJobCompleted(ctx, job.ID, last.BytesTransferred, last.FilesTransferred); err != nil {
		return fmt.Errorf("marking job %d completed: %w", job.ID, err)
	}
	log.Info("job completed")
	return nil
}

// Reset deletes the job history for a destination so the next run plans
// from scratch.
func (s *Scheduler) Reset(ctx context.Context, destinationID int64) error {
	return s.store.ResetJobs(ctx, destinationID)
}

// IsStaleErr reports whether err is (or wraps) ErrStaleJobDetected, the
// signal that Run halted without mutating state.
func IsStaleErr(err error) bool {
	return errors.Is(err, errs.ErrStaleJobDetected)
}
