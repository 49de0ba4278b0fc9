// Package async is the persisted task queue and worker pool behind stage execution.
//
// A Task names a handler and carries an opaque payload. Tasks become eligible
// once RunAfter has passed, which is how the pipeline schedules the next stage
// after a delay without holding a goroutine.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/intake/errors"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid TaskStatus
func IsValidStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is one unit of queued work.
//
// JobID groups tasks under the pipeline job they belong to so that deleting
// a job can cancel whatever is still queued for it.
type Task struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	JobID       string          `json:"job_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      TaskStatus      `json:"status"`
	Error       string          `json:"error,omitempty"`
	Attempt     int             `json:"attempt,omitempty"`
	RunAfter    time.Time       `json:"run_after"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewTask creates a queued task that becomes runnable after delay.
func NewTask(handlerName, jobID string, payload json.RawMessage, delay time.Duration) (*Task, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	now := time.Now()
	return &Task{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		JobID:       jobID,
		Payload:     payload,
		Status:      TaskStatusQueued,
		RunAfter:    now.Add(delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DecodePayload unmarshals the task payload into v
func (t *Task) DecodePayload(v interface{}) error {
	if len(t.Payload) == 0 {
		return errors.Newf("task %s has no payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return errors.Wrapf(err, "failed to decode payload for task %s", t.ID)
	}
	return nil
}

// Start marks the task as running
func (t *Task) Start() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.Attempt++
	t.UpdatedAt = now
}

// Complete marks the task as completed
func (t *Task) Complete() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// Fail marks the task as failed with an error message
func (t *Task) Fail(err error) {
	now := time.Now()
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// Cancel marks the task as cancelled with a reason
func (t *Task) Cancel(reason string) {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.Error = reason
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// Requeue puts a running task back in the queue, runnable immediately
func (t *Task) Requeue() {
	now := time.Now()
	t.Status = TaskStatusQueued
	t.Error = ""
	t.StartedAt = nil
	t.RunAfter = now
	t.UpdatedAt = now
}
