// Package schedule runs recurring maintenance alongside the worker pool.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/pulse/async"
)

// Job is a recurring piece of work. Run is called at most once per Every.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type entry struct {
	job       Job
	nextRunAt time.Time
	runs      int
	lastErr   error
}

// Ticker checks for due jobs at a fixed interval and runs them in order
type Ticker struct {
	interval   time.Duration
	queue      *async.Queue
	workerPool *async.WorkerPool // optional, adds worker and memory figures to activity logs
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu             sync.Mutex
	entries        []*entry
	now            func() time.Time
	lastActiveWork int
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due jobs (default: 1 second)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: time.Second}
}

// NewTicker creates a ticker bound to ctx. queue and workerPool may be nil.
func NewTicker(ctx context.Context, queue *async.Queue, workerPool *async.WorkerPool, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		interval:   cfg.Interval,
		queue:      queue,
		workerPool: workerPool,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     logger.Named("pulse.schedule"),
		now:        time.Now,
	}
}

// Add registers job; its first run is one period from now
func (t *Ticker) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduled job needs a name and a run function")
	}
	if job.Every <= 0 {
		return errors.Newf("scheduled job %s needs a positive period, got %s", job.Name, job.Every)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.job.Name == job.Name {
			return errors.Wrapf(errors.ErrConflict, "scheduled job %s already registered", job.Name)
		}
	}
	t.entries = append(t.entries, &entry{job: job, nextRunAt: t.now().Add(job.Every)})
	return nil
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Ticker started", "interval", t.interval, "jobs", len(t.entries))
}

// Stop cancels a running job and waits for the loop to exit
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.logActivity()
			t.tick(t.ctx)
		}
	}
}

// tick runs every due job once
func (t *Ticker) tick(ctx context.Context) {
	now := t.now()

	t.mu.Lock()
	var due []*entry
	for _, e := range t.entries {
		if !now.Before(e.nextRunAt) {
			due = append(due, e)
			e.nextRunAt = now.Add(e.job.Every)
		}
	}
	t.mu.Unlock()

	for _, e := range due {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		err := e.job.Run(ctx)

		t.mu.Lock()
		e.runs++
		e.lastErr = err
		t.mu.Unlock()

		if err != nil {
			t.logger.Warnw("Scheduled job failed", "job", e.job.Name, "error", err)
			continue
		}
		t.logger.Debugw("Scheduled job ran", "job", e.job.Name, "duration", time.Since(started))
	}
}

// Runs reports how often the named job has run and its last error
func (t *Ticker) Runs(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.job.Name == name {
			return e.runs, e.lastErr
		}
	}
	return 0, errors.NewNotFoundError("scheduled job %s", name)
}

// logActivity logs queue load whenever the number of queued plus running tasks changes
func (t *Ticker) logActivity() {
	if t.queue == nil {
		return
	}
	queued, running, err := t.queue.GetTaskCounts()
	if err != nil {
		t.logger.Warnw("Failed to get queue stats", "error", err)
		return
	}

	active := queued + running
	t.mu.Lock()
	changed := active != t.lastActiveWork
	t.lastActiveWork = active
	t.mu.Unlock()
	if !changed {
		return
	}

	fields := []interface{}{"queued", queued, "running", running}
	if t.workerPool != nil {
		m := t.workerPool.GetSystemMetrics()
		fields = append(fields,
			"workers_active", m.WorkersActive,
			"workers_total", m.WorkersTotal,
			"mem_percent", int(m.MemoryPercent))
	}
	t.logger.Infow("Queue activity changed", fields...)
}

// CleanupJob removes finished tasks older than retention from queue
func CleanupJob(queue *async.Queue, every, retention time.Duration, logger *zap.SugaredLogger) Job {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return Job{
		Name:  "queue.cleanup",
		Every: every,
		Run: func(ctx context.Context) error {
			n, err := queue.Cleanup(ctx, retention)
			if err != nil {
				return errors.Wrap(err, "failed to clean up finished tasks")
			}
			if n > 0 {
				logger.Infow("Removed finished tasks", "count", n, "older_than", retention)
			}
			return nil
		},
	}
}
