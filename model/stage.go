// Package model defines the pipeline's records: jobs, raw ingest documents and candidates.
package model

import (
	"github.com/teranos/intake/errors"
)

// Stage is a job's position in the ingestion pipeline
type Stage int

const (
	StageCreated Stage = iota
	StageStructureDiscovery
	StageBulkExtraction
	StageCandidateSeparation
	StageTextExtraction
	StageScoring
	StageCompleted
	StageFailed
)

// NumStages sizes per-stage arrays
const NumStages = int(StageFailed) + 1

var stageNames = [NumStages]string{
	"CREATED",
	"STRUCTURE_DISCOVERY",
	"BULK_EXTRACTION",
	"CANDIDATE_SEPARATION",
	"TEXT_EXTRACTION",
	"SCORING",
	"COMPLETED",
	"FAILED",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= NumStages {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// ParseStage is the inverse of String
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageCreated, errors.NewInvalidRequestError("unknown stage %q", name)
}

// IsWork reports whether the stage does pipeline work (STRUCTURE_DISCOVERY..SCORING)
func (s Stage) IsWork() bool {
	return s >= StageStructureDiscovery && s <= StageScoring
}

// Next returns the stage that follows a successful s. SCORING is followed by COMPLETED.
func (s Stage) Next() Stage {
	if s >= StageCreated && s < StageCompleted {
		return s + 1
	}
	return s
}

// IsTerminal reports COMPLETED or FAILED
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// WorkStages lists the five stages in execution order
func WorkStages() []Stage {
	return []Stage{
		StageStructureDiscovery,
		StageBulkExtraction,
		StageCandidateSeparation,
		StageTextExtraction,
		StageScoring,
	}
}

// MarshalText encodes the stage by name
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name
func (s *Stage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StageAttempts counts retries per stage
type StageAttempts [NumStages]int

// Get returns the count for stage s
func (a StageAttempts) Get(s Stage) int {
	if s < 0 || int(s) >= NumStages {
		return 0
	}
	return a[s]
}
