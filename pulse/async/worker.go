package async

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxOrphanedTasksToRecover limits how many orphaned tasks are requeued on startup
	MaxOrphanedTasksToRecover = 1000

	// DefaultWorkers bounds concurrent stage executions across all jobs
	DefaultWorkers = 5
)

// pulseLogger gives worker lifecycle events distinct levels:
// Starting logs at DEBUG, Closing at WARN, Pulse at INFO.
type pulseLogger struct {
	*zap.SugaredLogger
}

func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`
	PollInterval time.Duration `json:"poll_interval"`
}

// DefaultWorkerPoolConfig returns the production defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      DefaultWorkers,
		PollInterval: 500 * time.Millisecond,
	}
}

// WorkerPool polls the queue and executes due tasks with a fixed number of workers.
type WorkerPool struct {
	queue         *Queue
	registry      *HandlerRegistry
	executor      TaskExecutor
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	tasksDone     int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool over db with an empty handler registry.
// Register handlers through Registry() before calling Start().
//
// Cancelling ctx stops the workers the same way Stop does.
func NewWorkerPool(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithQueue(ctx, NewQueue(db), poolCfg, logger)
}

// NewWorkerPoolWithQueue creates a pool over an existing queue, so producers
// and workers share subscribers.
func NewWorkerPoolWithQueue(ctx context.Context, queue *Queue, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = DefaultWorkerPoolConfig().PollInterval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	workerCtx, cancel := context.WithCancel(ctx)
	registry := NewHandlerRegistry()

	return &WorkerPool{
		queue:      queue,
		registry:   registry,
		executor:   NewRegistryExecutor(registry),
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pulseLogger{logger.Named("pulse")},
	}
}

// Start recovers orphaned tasks and launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Restart after Stop(): derive a fresh context before spawning workers
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.tasksDone = 0
	wp.mu.Unlock()

	if n, err := wp.recoverOrphanedTasks(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned tasks", "error", err)
	} else if n > 0 {
		wp.logger.Starting("Recovered orphaned tasks from previous run", "count", n)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Pulse("Worker pool started", "workers", wp.workers, "poll_interval", wp.poolConfig.PollInterval)
}

// recoverOrphanedTasks requeues tasks left "running" by a crash. Stage handlers
// are idempotent, so rerunning an interrupted stage is safe.
func (wp *WorkerPool) recoverOrphanedTasks() (int, error) {
	running := TaskStatusRunning
	orphaned, err := wp.queue.ListTasks(&running, MaxOrphanedTasksToRecover)
	if err != nil {
		return 0, fmt.Errorf("failed to list running tasks: %w", err)
	}

	recovered := 0
	for _, task := range orphaned {
		task.Requeue()
		if err := wp.queue.UpdateTask(task); err != nil {
			wp.logger.Warnw("Failed to recover orphaned task", "task_id", task.ID, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Stop cancels the workers and waits up to 30 seconds for them to exit
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Pulse("❀ WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - workers may still be running", "timeout", timeout)
	}
}

func (wp *WorkerPool) context() context.Context {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.ctx
}

// worker polls for due tasks until the pool context is cancelled
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	ctx := wp.context()
	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain every due task before waiting for the next tick
			for {
				processed, err := wp.processNextTask(ctx)
				if err != nil {
					if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
						return
					}
					errorCount++
					wp.logger.Errorw("Worker error processing task",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount)

					if errorCount >= maxConsecutiveErrors {
						wp.logger.Warnw("Worker backing off due to consecutive errors",
							"worker_id", id,
							"backoff", backoffDuration,
							"consecutive_errors", errorCount)
						select {
						case <-ctx.Done():
							return
						case <-time.After(backoffDuration):
						}
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
					break
				}

				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second

				if !processed || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// processNextTask executes one due task. It reports whether a task was found.
func (wp *WorkerPool) processNextTask(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}

	task, err := wp.queue.Dequeue()
	if err != nil {
		return false, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	wp.mu.Lock()
	wp.tasksDone++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	log := wp.logger.With("task_id", task.ID, "handler", task.HandlerName, "job_id", task.JobID)
	start := time.Now()

	if err := wp.executor.Execute(ctx, task); err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the task - put it back instead of failing it
			log.Warnw("❀ Task cancelled during execution, re-queuing")
			if requeueErr := wp.queue.RequeueTask(task.ID); requeueErr != nil {
				log.Errorw("Failed to re-queue cancelled task", "error", requeueErr)
			}
			return true, nil
		}

		ec := ClassifyError(task.HandlerName, err)
		log.Errorw("Task failed",
			"error", err,
			"error_code", ec.Code,
			"retryable", ec.Retryable,
			"duration_ms", time.Since(start).Milliseconds())
		return true, wp.queue.FailTask(task.ID, err)
	}

	log.Debugw("Task completed", "duration_ms", time.Since(start).Milliseconds())
	return true, wp.queue.CompleteTask(task.ID)
}

// Queue returns the task queue (for enqueuing)
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry. Register handlers before Start():
//
//	pool := async.NewWorkerPool(ctx, db, poolCfg, logger)
//	pool.Registry().Register(pipeline.NewStageHandler(orchestrator))
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}
