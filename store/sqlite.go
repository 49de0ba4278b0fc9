package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
)

// SQLStore implements RecordStore on the migrated SQLite schema
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ RecordStore = (*SQLStore)(nil)

// New wraps an open, migrated database
func New(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// DB exposes the underlying handle for the task queue, which shares it
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC()
}

func jobDetail(err error, id string) error {
	return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
}

// stageColumn stores StageCreated as ” so an unset lastProcessedStage reads back unset
func stageColumn(s model.Stage) string {
	if s == model.StageCreated {
		return ""
	}
	return s.String()
}

func parseStageColumn(v string) (model.Stage, error) {
	if v == "" {
		return model.StageCreated, nil
	}
	return model.ParseStage(v)
}

const jobSelectColumns = `id, owner_id, title, source_type, source_ref, source_options,
		job_description, minimum_qualifications, minimum_skills, stage,
		last_processed_stage, total_attempts, max_retries, total_candidates,
		reviewed_count, processing_percentage, sorted_results, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job                          model.Job
		options, sorted              string
		stage, lastStage, sourceType string
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Title, &sourceType, &job.SourceRef, &options,
		&job.JobDescription, &job.MinimumQualifications, &job.MinimumSkills, &stage,
		&lastStage, &job.TotalAttempts, &job.MaxRetries, &job.TotalCandidates,
		&job.ReviewedCount, &job.ProcessingPercentage, &sorted, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.SourceType = model.SourceType(sourceType)
	if job.Stage, err = model.ParseStage(stage); err != nil {
		return nil, err
	}
	if job.LastProcessedStage, err = parseStageColumn(lastStage); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &job.SourceOptions); err != nil {
		return nil, errors.Wrap(err, "failed to decode source options")
	}
	if err := json.Unmarshal([]byte(sorted), &job.SortedResults); err != nil {
		return nil, errors.Wrap(err, "failed to decode sorted results")
	}
	return &job, nil
}

// CreateJob inserts a new job. ID and timestamps must already be set.
func (s *SQLStore) CreateJob(ctx context.Context, job *model.Job) error {
	options, err := json.Marshal(job.SourceOptions)
	if err != nil {
		return errors.Wrap(err, "failed to encode source options")
	}
	sorted, err := marshalList(job.SortedResults)
	if err != nil {
		return errors.Wrap(err, "failed to encode sorted results")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobSelectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.Title, string(job.SourceType), job.SourceRef, string(options),
		job.JobDescription, job.MinimumQualifications, job.MinimumSkills, job.Stage.String(),
		stageColumn(job.LastProcessedStage), job.TotalAttempts, job.MaxRetries, job.TotalCandidates,
		job.ReviewedCount, job.ProcessingPercentage, sorted, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to create job"), job.ID)
	}
	return nil
}

// GetJob loads a job with its stage attempts and log lines
func (s *SQLStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobSelectColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, jobDetail(errors.Wrap(err, "failed to get job"), id)
	}

	if job.StageAttempts, err = s.stageAttempts(ctx, id); err != nil {
		return nil, err
	}
	if job.Logs, err = s.ListJobLogs(ctx, id, 0); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLStore) stageAttempts(ctx context.Context, jobID string) (model.StageAttempts, error) {
	var attempts model.StageAttempts

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, attempts FROM job_stage_attempts WHERE job_id = ?`, jobID)
	if err != nil {
		return attempts, jobDetail(errors.Wrap(err, "failed to load stage attempts"), jobID)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return attempts, errors.Wrap(err, "failed to scan stage attempts")
		}
		stage, err := model.ParseStage(name)
		if err != nil {
			return attempts, err
		}
		attempts[stage] = n
	}
	return attempts, rows.Err()
}

// UpdateJob writes a job's stage, totals and shortlist
func (s *SQLStore) UpdateJob(ctx context.Context, job *model.Job) error {
	sorted, err := marshalList(job.SortedResults)
	if err != nil {
		return errors.Wrap(err, "failed to encode sorted results")
	}
	job.UpdatedAt = s.timestamp()

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET stage = ?,
		    last_processed_stage = ?,
		    max_retries = ?,
		    total_candidates = ?,
		    sorted_results = ?,
		    updated_at = ?
		WHERE id = ?`,
		job.Stage.String(),
		stageColumn(job.LastProcessedStage),
		job.MaxRetries,
		job.TotalCandidates,
		sorted,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to update job"), job.ID)
	}
	return expectRow(result, "job", job.ID)
}

// ListJobs returns jobs newest first; an empty ownerID lists every owner
func (s *SQLStore) ListJobs(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobSelectColumns + ` FROM jobs`
	var args []interface{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// DeleteJob removes a job; its raw document, candidates and logs cascade
func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to delete job"), id)
	}
	return expectRow(result, "job", id)
}

// SetProgress stores the job's completion percentage
func (s *SQLStore) SetProgress(ctx context.Context, jobID string, percentage float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET processing_percentage = ?, updated_at = ? WHERE id = ?`,
		percentage, s.timestamp(), jobID)
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to store progress"), jobID)
	}
	return nil
}

// IncrementStageAttempt bumps one stage counter and the job's total, returning the stage count
func (s *SQLStore) IncrementStageAttempt(ctx context.Context, jobID string, stage model.Stage) (int, error) {
	var attempts int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		attempts, err = bumpAttempt(ctx, tx, jobID, stage)
		return err
	})
	if err != nil {
		return 0, jobDetail(errors.Wrap(err, "failed to increment stage attempt"), jobID)
	}
	return attempts, nil
}

// ResetStageAttempt zeroes one stage counter
func (s *SQLStore) ResetStageAttempt(ctx context.Context, jobID string, stage model.Stage) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM job_stage_attempts WHERE job_id = ? AND stage = ?`, jobID, stage.String())
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to reset stage attempt"), jobID)
	}
	return nil
}

// ClaimRetry moves a FAILED job back to stage and counts the attempt, all in one
// transaction. claimed is false when the job is not FAILED or the stage budget
// is spent; attempts is the stage count after the call.
func (s *SQLStore) ClaimRetry(ctx context.Context, jobID string, stage model.Stage, maxRetries int) (int, bool, error) {
	var attempts int
	var claimed bool

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT attempts FROM job_stage_attempts WHERE job_id = ? AND stage = ?`,
			jobID, stage.String()).Scan(&attempts)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if attempts >= maxRetries {
			return nil
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE jobs SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
			stage.String(), s.timestamp(), jobID, model.StageFailed.String())
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			return err
		}

		attempts, err = bumpAttempt(ctx, tx, jobID, stage)
		if err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return 0, false, jobDetail(errors.Wrap(err, "failed to claim retry"), jobID)
	}
	return attempts, claimed, nil
}

func bumpAttempt(ctx context.Context, tx *sql.Tx, jobID string, stage model.Stage) (int, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_stage_attempts (job_id, stage, attempts) VALUES (?, ?, 1)
		ON CONFLICT (job_id, stage) DO UPDATE SET attempts = attempts + 1`,
		jobID, stage.String())
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET total_attempts = total_attempts + 1 WHERE id = ?`, jobID); err != nil {
		return 0, err
	}
	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT attempts FROM job_stage_attempts WHERE job_id = ? AND stage = ?`,
		jobID, stage.String()).Scan(&attempts)
	return attempts, err
}

// IncrementReviewed counts one more scored candidate
func (s *SQLStore) IncrementReviewed(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET reviewed_count = reviewed_count + 1 WHERE id = ?`, jobID)
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to increment reviewed count"), jobID)
	}
	return nil
}

// AppendJobLog adds one line to the job's log
func (s *SQLStore) AppendJobLog(ctx context.Context, jobID, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		jobID, level, message, s.timestamp())
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to append job log"), jobID)
	}
	return nil
}

// ListJobLogs returns log lines oldest first; limit <= 0 returns all
func (s *SQLStore) ListJobLogs(ctx context.Context, jobID string, limit int) ([]model.LogEntry, error) {
	query := `SELECT created_at, level, message FROM job_logs WHERE job_id = ? ORDER BY id ASC`
	args := []interface{}{jobID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, jobDetail(errors.Wrap(err, "failed to list job logs"), jobID)
	}
	defer rows.Close()

	var logs []model.LogEntry
	for rows.Next() {
		var entry model.LogEntry
		if err := rows.Scan(&entry.Time, &entry.Level, &entry.Message); err != nil {
			return nil, errors.Wrap(err, "failed to scan job log")
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("%s %s", kind, id)
	}
	return nil
}

// marshalList encodes nil slices as [] to match the column defaults
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}
