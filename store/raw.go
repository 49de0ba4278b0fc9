package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
)

// SaveRawDocument upserts the raw document of a job
func (s *SQLStore) SaveRawDocument(ctx context.Context, doc *model.RawIngestDocument) error {
	headers, err := marshalList(doc.Headers)
	if err != nil {
		return errors.Wrap(err, "failed to encode headers")
	}
	entries, err := marshalList(doc.Entries)
	if err != nil {
		return errors.Wrap(err, "failed to encode entries")
	}
	var mapping sql.NullString
	if doc.FieldMapping != nil {
		b, err := json.Marshal(doc.FieldMapping)
		if err != nil {
			return errors.Wrap(err, "failed to encode field mapping")
		}
		mapping = sql.NullString{String: string(b), Valid: true}
	}

	now := s.timestamp()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = model.RawPending
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_ingest_documents (
			job_id, status, headers, entries, field_mapping, total_rows,
			processed_rows, skipped_rows, sheet_title, range_used, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			headers = excluded.headers,
			entries = excluded.entries,
			field_mapping = excluded.field_mapping,
			total_rows = excluded.total_rows,
			processed_rows = excluded.processed_rows,
			skipped_rows = excluded.skipped_rows,
			sheet_title = excluded.sheet_title,
			range_used = excluded.range_used,
			updated_at = excluded.updated_at`,
		doc.JobID, string(doc.Status), headers, entries, mapping, doc.TotalRows,
		doc.ProcessedRows, doc.SkippedRows, doc.SheetTitle, doc.RangeUsed,
		doc.CreatedAt.UTC(), doc.UpdatedAt,
	)
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to save raw document"), doc.JobID)
	}
	return nil
}

// GetRawDocument loads a job's raw document with its row logs
func (s *SQLStore) GetRawDocument(ctx context.Context, jobID string) (*model.RawIngestDocument, error) {
	var (
		doc              model.RawIngestDocument
		status           string
		headers, entries string
		mapping          sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, status, headers, entries, field_mapping, total_rows,
		       processed_rows, skipped_rows, sheet_title, range_used, created_at, updated_at
		FROM raw_ingest_documents WHERE job_id = ?`, jobID).Scan(
		&doc.JobID, &status, &headers, &entries, &mapping, &doc.TotalRows,
		&doc.ProcessedRows, &doc.SkippedRows, &doc.SheetTitle, &doc.RangeUsed,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("raw document for job %s", jobID)
	}
	if err != nil {
		return nil, jobDetail(errors.Wrap(err, "failed to get raw document"), jobID)
	}

	doc.Status = model.RawStatus(status)
	if err := json.Unmarshal([]byte(headers), &doc.Headers); err != nil {
		return nil, errors.Wrap(err, "failed to decode headers")
	}
	if err := json.Unmarshal([]byte(entries), &doc.Entries); err != nil {
		return nil, errors.Wrap(err, "failed to decode entries")
	}
	if mapping.Valid {
		doc.FieldMapping = &model.FieldMapping{}
		if err := json.Unmarshal([]byte(mapping.String), doc.FieldMapping); err != nil {
			return nil, errors.Wrap(err, "failed to decode field mapping")
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_index, message, created_at FROM raw_ingest_logs
		WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, jobDetail(errors.Wrap(err, "failed to load raw logs"), jobID)
	}
	defer rows.Close()
	for rows.Next() {
		var l model.RawLog
		if err := rows.Scan(&l.RowIndex, &l.Message, &l.Time); err != nil {
			return nil, errors.Wrap(err, "failed to scan raw log")
		}
		doc.Logs = append(doc.Logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating raw logs")
	}
	return &doc, nil
}

// AppendRawLog records what happened to one source row
func (s *SQLStore) AppendRawLog(ctx context.Context, jobID string, rowIndex int, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_ingest_logs (job_id, row_index, message, created_at)
		VALUES (?, ?, ?, ?)`,
		jobID, rowIndex, message, s.timestamp())
	if err != nil {
		return jobDetail(errors.Wrap(err, "failed to append raw log"), jobID)
	}
	return nil
}
