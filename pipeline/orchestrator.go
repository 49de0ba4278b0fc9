// Package pipeline runs the five ingestion stages of a job.
//
// Each stage executes as a task on the pulse/async queue. When a stage
// succeeds the orchestrator enqueues the next one with a short delay; when it
// fails the job goes to FAILED and the RetryEngine decides whether the same
// stage runs again. Stage errors never leave Advance.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/logger"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pulse"
	"github.com/teranos/intake/pulse/async"
	"github.com/teranos/intake/store"
)

// HandlerName is the task handler that advances a job by one stage
const HandlerName = "pipeline.advance"

// DefaultStageDelay separates consecutive stages
const DefaultStageDelay = time.Second

// AdvancePayload is the payload of an advance task
type AdvancePayload struct {
	JobID string      `json:"job_id"`
	Stage model.Stage `json:"stage"`
}

// Orchestrator is the per-job stage state machine
type Orchestrator struct {
	store      store.RecordStore
	queue      *async.Queue
	stages     Stages
	tracker    *Tracker
	retry      *RetryEngine
	stageDelay time.Duration
	logger     *zap.SugaredLogger

	locksMu sync.Mutex
	locks   map[string]*jobLock

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// jobLock serializes stages of one job; refs counts holders and waiters
type jobLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrchestrator wires the stages to the store, queue and tracker
func NewOrchestrator(s store.RecordStore, queue *async.Queue, stages Stages, tracker *Tracker, stageDelay time.Duration, logger *zap.SugaredLogger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if stageDelay < 0 {
		stageDelay = 0
	}
	o := &Orchestrator{
		store:      s,
		queue:      queue,
		stages:     stages,
		tracker:    tracker,
		stageDelay: stageDelay,
		logger:     logger.Named("pipeline"),
		locks:      make(map[string]*jobLock),
		cancels:    make(map[string]context.CancelFunc),
	}
	o.retry = NewRetryEngine(s, o, tracker, o.logger)
	return o
}

// Retry returns the orchestrator's retry engine
func (o *Orchestrator) Retry() *RetryEngine {
	return o.retry
}

// Tracker returns the progress tracker
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Schedule enqueues an advance task for stage after delay
func (o *Orchestrator) Schedule(jobID string, stage model.Stage, delay time.Duration) error {
	payload, err := json.Marshal(AdvancePayload{JobID: jobID, Stage: stage})
	if err != nil {
		return errors.Wrap(err, "failed to encode advance payload")
	}
	task, err := async.NewTask(HandlerName, jobID, payload, delay)
	if err != nil {
		return err
	}
	return o.queue.Enqueue(task)
}

// lock takes the job's lock. The entry is dropped once nobody holds or waits
// for it, so finished and failed jobs leave nothing behind.
func (o *Orchestrator) lock(jobID string) func() {
	o.locksMu.Lock()
	l, ok := o.locks[jobID]
	if !ok {
		l = &jobLock{}
		o.locks[jobID] = l
	}
	l.refs++
	o.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, jobID)
		}
		o.locksMu.Unlock()
	}
}

// Cancel stops a running stage of jobID, if any
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[jobID]
	if ok {
		cancel()
		delete(o.cancels, jobID)
	}
	return ok
}

func (o *Orchestrator) register(ctx context.Context, jobID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	return runCtx, func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
		cancel()
	}
}

// Advance runs the stage the job is in. A CREATED job starts with structure
// discovery; COMPLETED and FAILED jobs are left alone. Only infrastructure
// errors are returned: a missing job, the store or the queue failing, or ctx
// ending before the stage finished.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) error {
	unlock := o.lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Stage.IsTerminal() {
		o.logger.Debugw("Job already finished", "job_id", jobID, "stage", job.Stage)
		return nil
	}
	if job.Stage == model.StageCreated {
		job.Stage = model.StageStructureDiscovery
		if err := o.store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}

	stage := job.Stage
	run, err := o.stageFunc(stage)
	if err != nil {
		return err
	}

	ctx = logger.WithJobID(ctx, jobID)
	ctx = logger.WithStage(ctx, stage.String())
	log := logger.FromContext(ctx, o.logger)
	log.Infow("Stage started")
	started := time.Now()

	runCtx, done := o.register(ctx, jobID)
	stageErr := run(runCtx, job)
	deleted := runCtx.Err() != nil && ctx.Err() == nil
	done()

	if stageErr == nil && !deleted {
		return o.finishStage(ctx, job, stage, time.Since(started))
	}
	if deleted {
		log.Infow("Stage cancelled, job deleted")
		return nil
	}
	if ctx.Err() != nil {
		// the worker is shutting down; the task is requeued and reruns this stage
		return ctx.Err()
	}
	return o.failStage(ctx, job, stage, stageErr)
}

func (o *Orchestrator) finishStage(ctx context.Context, job *model.Job, stage model.Stage, took time.Duration) error {
	if job.LastProcessedStage == stage {
		job.LastProcessedStage = model.StageCreated
	}

	next := stage.Next()
	job.Stage = next
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.strand(ctx, job, next, err)
		return err
	}
	o.logger.Infow("Stage complete",
		"job_id", job.ID,
		"stage", stage,
		"next", next,
		"duration_ms", took.Milliseconds())

	if next == model.StageCompleted {
		o.tracker.Log(ctx, job, pulse.LevelInfo, "Job complete: %d candidates ranked", len(job.SortedResults))
		o.tracker.Forget(job.ID)
		return nil
	}
	if err := o.Schedule(job.ID, next, o.stageDelay); err != nil {
		o.strand(ctx, job, next, err)
		return err
	}
	return nil
}

// strand marks a job FAILED at next when the hand-over after a successful
// stage broke, so a manual retry can resume it. Best effort: the store may be
// what failed.
func (o *Orchestrator) strand(ctx context.Context, job *model.Job, next model.Stage, cause error) {
	job.LastProcessedStage = next
	job.Stage = model.StageFailed
	if err := o.store.UpdateJob(ctx, job); err != nil {
		o.logger.Errorw("Failed to mark job failed after hand-over error",
			"job_id", job.ID,
			"next", next,
			"cause", cause,
			"error", err)
		return
	}
	o.logger.Warnw("Stage hand-over failed", "job_id", job.ID, "next", next, "error", cause)
	o.tracker.Log(ctx, job, pulse.LevelError, "Could not queue %s: %v", next, cause)
	o.tracker.Forget(job.ID)
}

func (o *Orchestrator) failStage(ctx context.Context, job *model.Job, stage model.Stage, stageErr error) error {
	ec := async.ClassifyError(stage.String(), stageErr)
	o.logger.Warnw("Stage failed",
		"job_id", job.ID,
		"stage", stage,
		"error", stageErr,
		"error_code", ec.Code,
		"retryable", ec.Retryable)

	job.LastProcessedStage = stage
	job.Stage = model.StageFailed
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	o.tracker.Log(ctx, job, pulse.LevelError, "%s failed: %v", stage, stageErr)

	return o.retry.MaybeRetry(ctx, job.ID)
}

// Handler returns the task handler to register with the worker pool
func (o *Orchestrator) Handler() async.TaskHandler {
	return &advanceHandler{o: o}
}

type advanceHandler struct {
	o *Orchestrator
}

func (h *advanceHandler) Name() string { return HandlerName }

// Execute skips tasks whose stage no longer matches the job, so a duplicate
// or stale task cannot run a stage twice
func (h *advanceHandler) Execute(ctx context.Context, task *async.Task) error {
	var p AdvancePayload
	if err := task.DecodePayload(&p); err != nil {
		return err
	}

	job, err := h.o.store.GetJob(ctx, p.JobID)
	if errors.IsNotFoundError(err) {
		h.o.logger.Debugw("Job gone, dropping task", "job_id", p.JobID, "task_id", task.ID)
		return nil
	}
	if err != nil {
		return err
	}
	current := job.Stage
	if current == model.StageCreated {
		current = model.StageStructureDiscovery
	}
	if current != p.Stage {
		h.o.logger.Debugw("Stale advance task",
			"job_id", p.JobID,
			"task_stage", p.Stage,
			"job_stage", job.Stage)
		return nil
	}
	return h.o.Advance(ctx, p.JobID)
}
