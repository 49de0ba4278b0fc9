package model

import (
	"strings"
	"time"

	"github.com/teranos/intake/errors"
)

// SourceType selects the data-source fetcher for a job
type SourceType string

const (
	SourceSpreadsheet SourceType = "SPREADSHEET"
	SourceTabularFile SourceType = "TABULAR_FILE"
	SourceHRReport    SourceType = "HR_REPORT"
)

// Valid reports whether t is a known source type
func (t SourceType) Valid() bool {
	switch t {
	case SourceSpreadsheet, SourceTabularFile, SourceHRReport:
		return true
	}
	return false
}

// Slug is the lower-case token used in synthetic emails
func (t SourceType) Slug() string {
	switch t {
	case SourceSpreadsheet:
		return "spreadsheet"
	case SourceTabularFile:
		return "file"
	case SourceHRReport:
		return "hrreport"
	}
	return strings.ToLower(string(t))
}

// SourceOptions carries per-source settings
type SourceOptions struct {
	SheetName string `json:"sheetName,omitempty" yaml:"sheet_name,omitempty" toml:"sheet_name,omitempty"`
	// CredentialsRef names the HR-system account; the secret itself comes from config
	CredentialsRef string `json:"credentialsRef,omitempty" yaml:"credentials_ref,omitempty" toml:"credentials_ref,omitempty"`
}

// DefaultMaxRetries caps automatic retries per stage
const DefaultMaxRetries = 3

// LogEntry is one line of a job's log
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// SortedResult is one row of a job's ranked shortlist
type SortedResult struct {
	CandidateID string    `json:"candidateId"`
	MatchTier   MatchTier `json:"matchTier"`
	MatchScore  int       `json:"matchScore"`
}

// Job is one ingestion run against one data source.
//
// LastProcessedStage is the stage that last failed; StageCreated means none has.
type Job struct {
	ID                    string         `json:"id"`
	OwnerID               string         `json:"ownerId"`
	Title                 string         `json:"title"`
	SourceType            SourceType     `json:"sourceType"`
	SourceRef             string         `json:"sourceRef"`
	SourceOptions         SourceOptions  `json:"sourceOptions"`
	JobDescription        string         `json:"jobDescriptionText"`
	MinimumQualifications string         `json:"minimumQualifications"`
	MinimumSkills         string         `json:"minimumSkills"`
	Stage                 Stage          `json:"stage"`
	LastProcessedStage    Stage          `json:"lastProcessedStage"`
	StageAttempts         StageAttempts  `json:"stageAttempts"`
	TotalAttempts         int            `json:"totalAttempts"`
	MaxRetries            int            `json:"maxRetries"`
	TotalCandidates       int            `json:"totalCandidates"`
	ReviewedCount         int            `json:"reviewedCount"`
	ProcessingPercentage  float64        `json:"processingPercentage"`
	SortedResults         []SortedResult `json:"sortedResults"`
	Logs                  []LogEntry     `json:"logs,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

// HasFailedStage reports whether a stage failure is recorded
func (j *Job) HasFailedStage() bool {
	return j.LastProcessedStage.IsWork()
}

// ShortID is the id prefix used in synthetic emails and log lines
func (j *Job) ShortID() string {
	id := strings.ReplaceAll(j.ID, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Validate checks a job before it is created
func (j *Job) Validate() error {
	if !j.SourceType.Valid() {
		return errors.NewInvalidRequestError("unknown source type %q", j.SourceType)
	}
	if strings.TrimSpace(j.SourceRef) == "" {
		return errors.NewInvalidRequestError("source reference is required")
	}
	if j.MaxRetries < 0 {
		return errors.NewInvalidRequestError("maxRetries must be >= 0")
	}
	return nil
}
