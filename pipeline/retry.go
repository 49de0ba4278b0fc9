package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pulse"
	"github.com/teranos/intake/store"
)

// scheduler enqueues stage tasks
type scheduler interface {
	Schedule(jobID string, stage model.Stage, delay time.Duration) error
}

// RetryEngine re-enters the failed stage of a job, at most maxRetries times per stage
type RetryEngine struct {
	store     store.RecordStore
	scheduler scheduler
	tracker   *Tracker
	logger    *zap.SugaredLogger
}

// NewRetryEngine creates a retry engine
func NewRetryEngine(s store.RecordStore, sched scheduler, tracker *Tracker, logger *zap.SugaredLogger) *RetryEngine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RetryEngine{store: s, scheduler: sched, tracker: tracker, logger: logger.Named("retry")}
}

// MaybeRetry re-enqueues the failed stage of a FAILED job while its budget
// lasts. Jobs in any other stage are left alone.
func (r *RetryEngine) MaybeRetry(ctx context.Context, jobID string) error {
	_, err := r.retry(ctx, jobID)
	return err
}

func (r *RetryEngine) retry(ctx context.Context, jobID string) (bool, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Stage != model.StageFailed {
		return false, nil
	}
	failed := job.LastProcessedStage
	if !failed.IsWork() {
		r.logger.Warnw("Failed job has no failed stage recorded", "job_id", jobID)
		return false, nil
	}

	attempts, claimed, err := r.store.ClaimRetry(ctx, jobID, failed, job.MaxRetries)
	if err != nil {
		return false, err
	}
	if !claimed {
		r.logger.Infow("Retry budget spent", "job_id", jobID, "stage", failed, "max_retries", job.MaxRetries)
		r.tracker.Log(ctx, job, pulse.LevelError, "Giving up on %s after %d retries", failed, job.MaxRetries)
		r.tracker.Forget(jobID)
		return false, nil
	}

	job.Stage = failed
	r.tracker.Log(ctx, job, pulse.LevelWarn, "Retrying %s (attempt %d of %d)", failed, attempts, job.MaxRetries)
	if err := r.scheduler.Schedule(jobID, failed, 0); err != nil {
		job.Stage = model.StageFailed
		if putBack := r.store.UpdateJob(ctx, job); putBack != nil {
			err = errors.WithSecondaryError(err, putBack)
		}
		return false, errors.Wrapf(err, "failed to schedule retry of %s", failed)
	}
	return true, nil
}
