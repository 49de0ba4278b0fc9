// Package pulse holds the infrastructure contracts shared by the pipeline and its
// outer surfaces: progress publication and job log appends.
package pulse

import (
	"context"
	"time"
)

// Sub-events a stage emits, in order: one start, any number of progress, one complete
const (
	SubStepStart    = "start"
	SubStepProgress = "progress"
	SubStepComplete = "complete"

	// SubStepLog carries a job log line rather than a percentage change
	SubStepLog = "log"
)

// Event is one progress update for a job
type Event struct {
	JobID      string    `json:"jobId"`
	Percentage float64   `json:"percentage"`
	Step       string    `json:"step"`
	SubStep    string    `json:"subStep"`
	Current    int       `json:"current,omitempty"`
	Total      int       `json:"total,omitempty"`
	Message    string    `json:"message,omitempty"`
	Level      string    `json:"level,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressEmitter delivers events to whoever watches an owner's jobs.
// Publish must not block on slow subscribers.
type ProgressEmitter interface {
	Publish(ownerID string, event Event)
}

// Log levels stored on a job
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// JobLogger appends a line to a job's persisted log
type JobLogger interface {
	AppendLog(ctx context.Context, jobID, level, message string) error
}

// NopEmitter discards events (CLI runs without a server)
type NopEmitter struct{}

// Publish implements ProgressEmitter
func (NopEmitter) Publish(string, Event) {}

// MultiEmitter fans events out to several emitters
type MultiEmitter []ProgressEmitter

// Publish implements ProgressEmitter
func (m MultiEmitter) Publish(ownerID string, event Event) {
	for _, e := range m {
		if e != nil {
			e.Publish(ownerID, event)
		}
	}
}
