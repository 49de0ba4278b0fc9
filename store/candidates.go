package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
)

const candidateSelectColumns = `id, job_id, name, email, phone, resume_url, resume_text,
		is_text_extracted, is_scored, is_resume_scanned, match_tier, match_score,
		review_comment, questions, important_questions, row_index, dynamic_fields,
		created_at, updated_at`

func scanCandidate(row rowScanner) (*model.Candidate, error) {
	var (
		c                    model.Candidate
		tier                 string
		score                sql.NullInt64
		questions, important string
		dynamic              string
	)
	err := row.Scan(
		&c.ID, &c.JobID, &c.Name, &c.Email, &c.Phone, &c.ResumeURL, &c.ResumeText,
		&c.IsTextExtracted, &c.IsScored, &c.IsResumeScanned, &tier, &score,
		&c.ReviewComment, &questions, &important, &c.RowIndex, &dynamic,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.MatchTier = model.MatchTier(tier)
	if score.Valid {
		v := int(score.Int64)
		c.MatchScore = &v
	}
	if err := json.Unmarshal([]byte(questions), &c.Questions); err != nil {
		return nil, errors.Wrap(err, "failed to decode questions")
	}
	if err := json.Unmarshal([]byte(important), &c.ImportantQuestions); err != nil {
		return nil, errors.Wrap(err, "failed to decode important questions")
	}
	c.DynamicFields = model.NewFields()
	if err := json.Unmarshal([]byte(dynamic), c.DynamicFields); err != nil {
		return nil, errors.Wrap(err, "failed to decode dynamic fields")
	}
	return &c, nil
}

func scoreColumn(score *int) sql.NullInt64 {
	if score == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*score), Valid: true}
}

func fieldsColumn(f *model.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	return string(b), err
}

// CreateCandidate inserts a candidate. A duplicate (jobId, email) returns ErrConflict.
func (s *SQLStore) CreateCandidate(ctx context.Context, c *model.Candidate) error {
	questions, err := marshalList(c.Questions)
	if err != nil {
		return errors.Wrap(err, "failed to encode questions")
	}
	important, err := marshalList(c.ImportantQuestions)
	if err != nil {
		return errors.Wrap(err, "failed to encode important questions")
	}
	dynamic, err := fieldsColumn(c.DynamicFields)
	if err != nil {
		return errors.Wrap(err, "failed to encode dynamic fields")
	}
	if c.ResumeURL == "" {
		c.ResumeURL = model.NoResume
	}
	now := s.timestamp()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateSelectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, c.Name, c.Email, c.Phone, c.ResumeURL, c.ResumeText,
		c.IsTextExtracted, c.IsScored, c.IsResumeScanned, string(c.MatchTier), scoreColumn(c.MatchScore),
		c.ReviewComment, questions, important, c.RowIndex, dynamic,
		c.CreatedAt.UTC(), c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WithDetail(
				errors.Wrapf(errors.ErrConflict, "candidate %s already exists", c.Email),
				fmt.Sprintf("Job ID: %s", c.JobID))
		}
		return jobDetail(errors.Wrap(err, "failed to create candidate"), c.JobID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CandidateExists reports whether the job already has a candidate with this email
func (s *SQLStore) CandidateExists(ctx context.Context, jobID, email string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM candidates WHERE job_id = ? AND email = ? LIMIT 1`, jobID, email)
}

// CandidateWithResumeURL reports whether the job already has a candidate with this resume
func (s *SQLStore) CandidateWithResumeURL(ctx context.Context, jobID, resumeURL string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM candidates WHERE job_id = ? AND resume_url = ? LIMIT 1`, jobID, resumeURL)
}

func (s *SQLStore) exists(ctx context.Context, query, jobID, value string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, jobID, value).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, jobDetail(errors.Wrap(err, "failed to look up candidate"), jobID)
	}
	return true, nil
}

// GetCandidate loads one candidate
func (s *SQLStore) GetCandidate(ctx context.Context, id string) (*model.Candidate, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx,
		`SELECT `+candidateSelectColumns+` FROM candidates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("candidate %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get candidate %s", id)
	}
	return c, nil
}

// ListCandidates returns a job's candidates in source row order
func (s *SQLStore) ListCandidates(ctx context.Context, jobID string) ([]*model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candidateSelectColumns+`
		FROM candidates WHERE job_id = ? ORDER BY row_index ASC, created_at ASC`, jobID)
	if err != nil {
		return nil, jobDetail(errors.Wrap(err, "failed to list candidates"), jobID)
	}
	defer rows.Close()

	var out []*model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan candidate")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating candidates")
	}
	return out, nil
}

// CountCandidates returns how many candidates a job has
func (s *SQLStore) CountCandidates(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates WHERE job_id = ?`, jobID).Scan(&n)
	if err != nil {
		return 0, jobDetail(errors.Wrap(err, "failed to count candidates"), jobID)
	}
	return n, nil
}

// UpdateCandidate writes extraction and scoring results
func (s *SQLStore) UpdateCandidate(ctx context.Context, c *model.Candidate) error {
	questions, err := marshalList(c.Questions)
	if err != nil {
		return errors.Wrap(err, "failed to encode questions")
	}
	important, err := marshalList(c.ImportantQuestions)
	if err != nil {
		return errors.Wrap(err, "failed to encode important questions")
	}
	c.UpdatedAt = s.timestamp()

	result, err := s.db.ExecContext(ctx, `
		UPDATE candidates
		SET resume_text = ?,
		    is_text_extracted = ?,
		    is_scored = ?,
		    is_resume_scanned = ?,
		    match_tier = ?,
		    match_score = ?,
		    review_comment = ?,
		    questions = ?,
		    important_questions = ?,
		    updated_at = ?
		WHERE id = ?`,
		c.ResumeText, c.IsTextExtracted, c.IsScored, c.IsResumeScanned,
		string(c.MatchTier), scoreColumn(c.MatchScore), c.ReviewComment,
		questions, important, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return errors.WithDetail(errors.Wrap(err, "failed to update candidate"),
			fmt.Sprintf("Candidate ID: %s", c.ID))
	}
	return expectRow(result, "candidate", c.ID)
}
