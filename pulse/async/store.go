package async

import (
	"database/sql"
	"time"

	"github.com/teranos/intake/errors"
)

// Store handles persistence of queued tasks.
//
// Timestamps are written in UTC so that run_after compares correctly as text.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// CreateTask inserts a new task
func (s *Store) CreateTask(task *Task) error {
	query := `
		INSERT INTO pulse_tasks (
			id, handler_name, job_id, payload, status, error, attempt,
			run_after, created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := sql.NullString{String: string(task.Payload), Valid: len(task.Payload) > 0}
	errMsg := sql.NullString{String: task.Error, Valid: task.Error != ""}

	_, err := s.db.Exec(query,
		task.ID,
		task.HandlerName,
		task.JobID,
		payload,
		task.Status,
		errMsg,
		task.Attempt,
		task.RunAfter.UTC(),
		task.CreatedAt.UTC(),
		utcPtr(task.StartedAt),
		utcPtr(task.CompletedAt),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(id string) (*Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM pulse_tasks WHERE id = ?`

	task, err := scanTask(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return task, nil
}

// UpdateTask writes the mutable fields of a task
func (s *Store) UpdateTask(task *Task) error {
	query := `
		UPDATE pulse_tasks
		SET status = ?,
		    error = ?,
		    attempt = ?,
		    run_after = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	errMsg := sql.NullString{String: task.Error, Valid: task.Error != ""}

	result, err := s.db.Exec(query,
		task.Status,
		errMsg,
		task.Attempt,
		task.RunAfter.UTC(),
		utcPtr(task.StartedAt),
		utcPtr(task.CompletedAt),
		task.UpdatedAt.UTC(),
		task.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("task %s", task.ID)
	}
	return nil
}

// NextDueTask returns the oldest queued task whose run_after has passed, or nil
func (s *Store) NextDueTask(now time.Time) (*Task, error) {
	query := `SELECT ` + taskSelectColumns + `
		FROM pulse_tasks
		WHERE status = 'queued' AND run_after <= ?
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	task, err := scanTask(s.db.QueryRow(query, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find due task")
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status
func (s *Store) ListTasks(status *TaskStatus, limit int) ([]*Task, error) {
	query := `SELECT ` + taskSelectColumns + ` FROM pulse_tasks`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	return scanTasks(rows, "tasks")
}

// ListTasksForJob returns every task of a pipeline job, oldest first
func (s *Store) ListTasksForJob(jobID string) ([]*Task, error) {
	query := `SELECT ` + taskSelectColumns + `
		FROM pulse_tasks
		WHERE job_id = ?
		ORDER BY created_at ASC`

	rows, err := s.db.Query(query, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks for job")
	}
	defer rows.Close()

	return scanTasks(rows, "job tasks")
}

func scanTasks(rows *sql.Rows, context string) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return tasks, nil
}

// CancelQueuedForJob cancels queued tasks of a job and reports how many changed
func (s *Store) CancelQueuedForJob(jobID, reason string) (int, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE pulse_tasks
		SET status = 'cancelled', error = ?, completed_at = ?, updated_at = ?
		WHERE job_id = ? AND status = 'queued'`,
		reason, now, now, jobID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cancel queued tasks")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// CountByStatus returns the number of tasks per status
func (s *Store) CountByStatus() (map[TaskStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM pulse_tasks GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count tasks")
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan task count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CleanupOldTasks removes finished tasks older than the given age
func (s *Store) CleanupOldTasks(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC()

	result, err := s.db.Exec(`
		DELETE FROM pulse_tasks
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old tasks")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
