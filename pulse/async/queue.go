package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/intake/errors"
)

const (
	// MaxTasksLimit caps list queries
	MaxTasksLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue is the persisted task queue. Subscribers see every state change.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Task
	now         func() time.Time
}

// NewQueue creates a new task queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Task, 0),
		now:         time.Now,
	}
}

// Enqueue persists a new task
func (q *Queue) Enqueue(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateTask(task); err != nil {
		err = errors.Wrap(err, "failed to enqueue task")
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", task.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", task.HandlerName))
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", task.JobID))
		return err
	}

	q.notifySubscribers(task)
	return nil
}

// Dequeue claims the next due task and marks it running. Returns nil when none is due.
func (q *Queue) Dequeue() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.store.NextDueTask(q.now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get due task")
	}
	if task == nil {
		return nil, nil
	}

	task.Start()

	if err := q.store.UpdateTask(task); err != nil {
		err = errors.Wrap(err, "failed to mark task as running")
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", task.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", task.HandlerName))
		return nil, err
	}

	q.notifySubscribers(task)
	return task, nil
}

// GetTask retrieves a task by ID
func (q *Queue) GetTask(id string) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetTask(id)
}

// UpdateTask writes a task's state
func (q *Queue) UpdateTask(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.UpdateTask(task); err != nil {
		err = errors.Wrap(err, "failed to update task")
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", task.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", task.Status))
		return err
	}

	q.notifySubscribers(task)
	return nil
}

// CompleteTask marks a task as completed
func (q *Queue) CompleteTask(id string) error {
	return q.transition(id, "complete", func(t *Task) { t.Complete() })
}

// FailTask marks a task as failed with an error
func (q *Queue) FailTask(id string, taskErr error) error {
	return q.transition(id, "fail", func(t *Task) { t.Fail(taskErr) })
}

// RequeueTask returns a task to the queue, e.g. after shutdown interrupted it
func (q *Queue) RequeueTask(id string) error {
	return q.transition(id, "requeue", func(t *Task) { t.Requeue() })
}

func (q *Queue) transition(id, action string, apply func(*Task)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, err := q.store.GetTask(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to %s task %s", action, id)
		return errors.WithDetail(err, fmt.Sprintf("Task ID: %s", id))
	}

	apply(task)

	if err := q.store.UpdateTask(task); err != nil {
		err = errors.Wrapf(err, "failed to %s task", action)
		err = errors.WithDetail(err, fmt.Sprintf("Task ID: %s", task.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Handler: %s", task.HandlerName))
		return err
	}

	q.notifySubscribers(task)
	return nil
}

// CancelJobTasks cancels every queued task of a pipeline job.
// Running tasks are stopped through their context, not here.
func (q *Queue) CancelJobTasks(jobID, reason string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.store.CancelQueuedForJob(jobID, reason)
	if err != nil {
		err = errors.Wrapf(err, "failed to cancel tasks for job %s", jobID)
		return 0, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jobID))
	}
	return n, nil
}

// ListTasks returns tasks, optionally filtered by status
func (q *Queue) ListTasks(status *TaskStatus, limit int) ([]*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListTasks(status, limit)
}

// ListTasksForJob returns every task of a pipeline job
func (q *Queue) ListTasksForJob(jobID string) ([]*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListTasksForJob(jobID)
}

// Subscribe returns a channel that receives task updates.
// The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Task, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed; the caller owns its lifecycle.
func (q *Queue) Unsubscribe(ch chan *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends task updates without blocking.
// REQUIRES: q.mu must be held by caller.
func (q *Queue) notifySubscribers(task *Task) {
	for _, ch := range q.subscribers {
		select {
		case ch <- task:
		default:
			// Channel full, skip
		}
	}
}

// Cleanup removes old finished tasks
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldTasks(olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats() (*QueueStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get queue stats")
	}

	stats := &QueueStats{
		Queued:    counts[TaskStatusQueued],
		Running:   counts[TaskStatusRunning],
		Completed: counts[TaskStatusCompleted],
		Failed:    counts[TaskStatusFailed],
		Cancelled: counts[TaskStatusCancelled],
	}
	stats.Total = stats.Queued + stats.Running + stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// GetTaskCounts returns queued and running counts (for system metrics)
func (q *Queue) GetTaskCounts() (queued int, running int, err error) {
	stats, err := q.GetStats()
	if err != nil {
		return 0, 0, err
	}
	return stats.Queued, stats.Running, nil
}
