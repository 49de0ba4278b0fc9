package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pulse"
	"github.com/teranos/intake/store"
)

// band is the share of overall progress a stage covers
type band struct {
	lo, hi float64
}

var stageBands = map[model.Stage]band{
	model.StageStructureDiscovery:  {0, 5},
	model.StageBulkExtraction:      {5, 15},
	model.StageCandidateSeparation: {15, 30},
	model.StageTextExtraction:      {30, 65},
	model.StageScoring:             {65, 100},
}

// Weight returns the percentage range a stage spans
func Weight(stage model.Stage) (lo, hi float64) {
	b := stageBands[stage]
	return b.lo, b.hi
}

// Tracker turns stage sub-events into a job percentage. Percentages never go
// down while the tracker remembers the job; progress within a stage stays
// below the stage's upper bound until Complete.
type Tracker struct {
	store   store.RecordStore
	emitter pulse.ProgressEmitter
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	last map[string]float64
}

// NewTracker creates a tracker publishing to emitter (nil discards events)
func NewTracker(s store.RecordStore, emitter pulse.ProgressEmitter, logger *zap.SugaredLogger) *Tracker {
	if emitter == nil {
		emitter = pulse.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Tracker{
		store:   s,
		emitter: emitter,
		logger:  logger.Named("progress"),
		last:    make(map[string]float64),
	}
}

// Start reports the beginning of a stage
func (t *Tracker) Start(ctx context.Context, job *model.Job, stage model.Stage) {
	lo, _ := Weight(stage)
	t.publish(ctx, job, stage, pulse.SubStepStart, lo, 0, 0)
}

// Progress reports current of total items done within a stage
func (t *Tracker) Progress(ctx context.Context, job *model.Job, stage model.Stage, current, total int) {
	lo, hi := Weight(stage)
	pct := lo
	if total > 0 {
		frac := math.Min(float64(current)/float64(total), 1)
		pct = lo + (hi-lo)*frac
	}
	// the upper bound belongs to Complete
	pct = math.Min(pct, math.Nextafter(hi, lo))
	t.publish(ctx, job, stage, pulse.SubStepProgress, pct, current, total)
}

// Ongoing reports progress when the total is unknown; the share approaches
// the stage's upper bound as done grows
func (t *Tracker) Ongoing(ctx context.Context, job *model.Job, stage model.Stage, done, scale int) {
	lo, hi := Weight(stage)
	if scale < 1 {
		scale = 1
	}
	frac := float64(done) / float64(done+scale)
	t.publish(ctx, job, stage, pulse.SubStepProgress, lo+(hi-lo)*frac, done, 0)
}

// Complete reports the end of a stage
func (t *Tracker) Complete(ctx context.Context, job *model.Job, stage model.Stage) {
	_, hi := Weight(stage)
	t.publish(ctx, job, stage, pulse.SubStepComplete, hi, 0, 0)
}

// Percentage is the last published percentage of a job
func (t *Tracker) Percentage(jobID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[jobID]
}

// Forget drops a job's remembered percentage
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, jobID)
}

// clamp keeps a job's percentage monotone, seeding from the persisted value
func (t *Tracker) clamp(job *model.Job, pct float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.last[job.ID]
	if !ok {
		prev = job.ProcessingPercentage
	}
	pct = math.Max(prev, math.Min(pct, 100))
	t.last[job.ID] = pct
	return pct
}

func (t *Tracker) publish(ctx context.Context, job *model.Job, stage model.Stage, subStep string, pct float64, current, total int) {
	pct = t.clamp(job, pct)
	job.ProcessingPercentage = pct

	if err := t.store.SetProgress(ctx, job.ID, pct); err != nil {
		t.logger.Warnw("Failed to store progress", "job_id", job.ID, "error", err)
	}
	t.emitter.Publish(job.OwnerID, pulse.Event{
		JobID:      job.ID,
		Percentage: pct,
		Step:       stage.String(),
		SubStep:    subStep,
		Current:    current,
		Total:      total,
		Timestamp:  time.Now().UTC(),
	})
}

// Log appends a line to the job's log and forwards it to live watchers
func (t *Tracker) Log(ctx context.Context, job *model.Job, level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if err := t.AppendLog(ctx, job.ID, level, msg); err != nil {
		t.logger.Warnw("Failed to append job log", "job_id", job.ID, "error", err)
	}
	t.emitter.Publish(job.OwnerID, pulse.Event{
		JobID:      job.ID,
		Percentage: job.ProcessingPercentage,
		Step:       job.Stage.String(),
		SubStep:    pulse.SubStepLog,
		Message:    msg,
		Level:      level,
		Timestamp:  time.Now().UTC(),
	})
}

// AppendLog implements pulse.JobLogger
func (t *Tracker) AppendLog(ctx context.Context, jobID, level, message string) error {
	return t.store.AppendJobLog(ctx, jobID, level, message)
}

var _ pulse.JobLogger = (*Tracker)(nil)
