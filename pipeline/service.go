package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pulse"
	"github.com/teranos/intake/pulse/async"
	"github.com/teranos/intake/store"
)

// SubmitRequest describes a new ingestion job. It is also the shape of the
// YAML and TOML files accepted by `intake submit --file`.
type SubmitRequest struct {
	OwnerID               string              `json:"ownerId" yaml:"owner_id" toml:"owner_id"`
	Title                 string              `json:"title" yaml:"title" toml:"title"`
	SourceType            model.SourceType    `json:"sourceType" yaml:"source_type" toml:"source_type"`
	SourceRef             string              `json:"sourceRef" yaml:"source_ref" toml:"source_ref"`
	SourceOptions         model.SourceOptions `json:"sourceOptions" yaml:"source_options" toml:"source_options"`
	JobDescription        string              `json:"jobDescriptionText" yaml:"job_description" toml:"job_description"`
	MinimumQualifications string              `json:"minimumQualifications" yaml:"minimum_qualifications" toml:"minimum_qualifications"`
	MinimumSkills         string              `json:"minimumSkills" yaml:"minimum_skills" toml:"minimum_skills"`
	MaxRetries            *int                `json:"maxRetries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// Service is the entry point for submitting and managing jobs
type Service struct {
	store      store.RecordStore
	orch       *Orchestrator
	queue      *async.Queue
	maxRetries int
	logger     *zap.SugaredLogger
}

// NewService creates a service; maxRetries is used when a request sets none
func NewService(s store.RecordStore, orch *Orchestrator, queue *async.Queue, maxRetries int, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxRetries < 0 {
		maxRetries = model.DefaultMaxRetries
	}
	return &Service{store: s, orch: orch, queue: queue, maxRetries: maxRetries, logger: logger.Named("service")}
}

// SubmitJob creates a job and schedules structure discovery
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:                    uuid.NewString(),
		OwnerID:               strings.TrimSpace(req.OwnerID),
		Title:                 strings.TrimSpace(req.Title),
		SourceType:            model.SourceType(strings.ToUpper(strings.TrimSpace(string(req.SourceType)))),
		SourceRef:             strings.TrimSpace(req.SourceRef),
		SourceOptions:         req.SourceOptions,
		JobDescription:        req.JobDescription,
		MinimumQualifications: req.MinimumQualifications,
		MinimumSkills:         req.MinimumSkills,
		Stage:                 model.StageCreated,
		MaxRetries:            s.maxRetries,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	if err := job.Validate(); err != nil {
		return "", err
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", err
	}
	s.orch.Tracker().Log(ctx, job, pulse.LevelInfo, "Job submitted: %s from %s", job.Title, job.SourceType)

	if err := s.orch.Schedule(job.ID, model.StageStructureDiscovery, 0); err != nil {
		return "", errors.Wrap(err, "failed to schedule structure discovery")
	}
	s.logger.Infow("Job submitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"source_type", job.SourceType)
	return job.ID, nil
}

// RetryJob re-enters the failed stage of a FAILED job. The stage's automatic
// retry budget is reset first.
func (s *Service) RetryJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Stage != model.StageFailed {
		return errors.NewInvalidRequestError("job %s is %s, only FAILED jobs can be retried", jobID, job.Stage)
	}
	if !job.LastProcessedStage.IsWork() {
		return errors.NewInvalidRequestError("job %s has no failed stage", jobID)
	}

	if err := s.store.ResetStageAttempt(ctx, jobID, job.LastProcessedStage); err != nil {
		return err
	}
	retried, err := s.orch.Retry().retry(ctx, jobID)
	if err != nil {
		return err
	}
	if !retried {
		return errors.WithHint(
			errors.NewInvalidRequestError("job %s allows no retries", jobID),
			"submit the job again with maxRetries > 0")
	}
	s.logger.Infow("Manual retry", "job_id", jobID, "stage", job.LastProcessedStage)
	return nil
}

// DeleteJob cancels a job's running stage and queued tasks and removes it
// with its raw document and candidates
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return err
	}

	cancelled := s.orch.Cancel(jobID)
	n, err := s.queue.CancelJobTasks(jobID, "job deleted")
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.orch.Tracker().Forget(jobID)

	s.logger.Infow("Job deleted",
		"job_id", jobID,
		"stage_cancelled", cancelled,
		"tasks_cancelled", n)
	return nil
}

// GetJob returns a job with its log
func (s *Service) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobs returns an owner's jobs, newest first
func (s *Service) ListJobs(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	return s.store.ListJobs(ctx, ownerID, limit)
}

// ListCandidates returns a job's candidates in source order
func (s *Service) ListCandidates(ctx context.Context, jobID string) ([]*model.Candidate, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListCandidates(ctx, jobID)
}

// JobLogs returns up to limit log lines of a job, oldest first
func (s *Service) JobLogs(ctx context.Context, jobID string, limit int) ([]model.LogEntry, error) {
	return s.store.ListJobLogs(ctx, jobID, limit)
}
