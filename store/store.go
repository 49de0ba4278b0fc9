// Package store persists jobs, raw ingest documents and candidates.
//
// Counters that concurrent stage tasks touch (reviewed count, stage attempts,
// processing percentage) are only ever changed with single SQL statements;
// UpdateJob deliberately leaves them alone so a stale in-memory Job cannot
// overwrite them.
package store

import (
	"context"

	"github.com/teranos/intake/model"
)

// RecordStore is the persistence boundary of the pipeline
type RecordStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	ListJobs(ctx context.Context, ownerID string, limit int) ([]*model.Job, error)
	DeleteJob(ctx context.Context, id string) error

	SetProgress(ctx context.Context, jobID string, percentage float64) error
	IncrementStageAttempt(ctx context.Context, jobID string, stage model.Stage) (int, error)
	ResetStageAttempt(ctx context.Context, jobID string, stage model.Stage) error
	ClaimRetry(ctx context.Context, jobID string, stage model.Stage, maxRetries int) (attempts int, claimed bool, err error)
	IncrementReviewed(ctx context.Context, jobID string) error
	AppendJobLog(ctx context.Context, jobID, level, message string) error
	ListJobLogs(ctx context.Context, jobID string, limit int) ([]model.LogEntry, error)

	SaveRawDocument(ctx context.Context, doc *model.RawIngestDocument) error
	GetRawDocument(ctx context.Context, jobID string) (*model.RawIngestDocument, error)
	AppendRawLog(ctx context.Context, jobID string, rowIndex int, message string) error

	CreateCandidate(ctx context.Context, c *model.Candidate) error
	CandidateExists(ctx context.Context, jobID, email string) (bool, error)
	CandidateWithResumeURL(ctx context.Context, jobID, resumeURL string) (bool, error)
	GetCandidate(ctx context.Context, id string) (*model.Candidate, error)
	ListCandidates(ctx context.Context, jobID string) ([]*model.Candidate, error)
	CountCandidates(ctx context.Context, jobID string) (int, error)
	UpdateCandidate(ctx context.Context, c *model.Candidate) error
}
