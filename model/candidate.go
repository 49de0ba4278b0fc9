package model

import (
	"time"
)

// NoResume is the resumeUrl of a candidate without a resume
const NoResume = "none"

// MatchTier buckets a candidate's score
type MatchTier string

const (
	TierHighMatch   MatchTier = "HighMatch"
	TierMediumMatch MatchTier = "MediumMatch"
	TierLowMatch    MatchTier = "LowMatch"
	TierUnqualified MatchTier = "Unqualified"
	TierNone        MatchTier = ""
)

// TierForScore maps a 0-100 score onto a tier: >=90 high, >=70 medium, >=40 low
func TierForScore(score int) MatchTier {
	switch {
	case score >= 90:
		return TierHighMatch
	case score >= 70:
		return TierMediumMatch
	case score >= 40:
		return TierLowMatch
	default:
		return TierUnqualified
	}
}

// Rank orders tiers for display, best first
func (t MatchTier) Rank() int {
	switch t {
	case TierHighMatch:
		return 0
	case TierMediumMatch:
		return 1
	case TierLowMatch:
		return 2
	case TierUnqualified:
		return 3
	}
	return 4
}

// Candidate is one applicant of a job, identified by (JobID, Email)
type Candidate struct {
	ID                 string    `json:"id"`
	JobID              string    `json:"jobId"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	ResumeURL          string    `json:"resumeUrl"`
	ResumeText         string    `json:"resumeText,omitempty"`
	IsTextExtracted    bool      `json:"isTextExtracted"`
	IsScored           bool      `json:"isScored"`
	IsResumeScanned    bool      `json:"isResumeScanned"`
	MatchTier          MatchTier `json:"matchTier"`
	MatchScore         *int      `json:"matchScore"`
	ReviewComment      string    `json:"reviewComment,omitempty"`
	Questions          []string  `json:"questions,omitempty"`
	ImportantQuestions []string  `json:"importantQuestions,omitempty"`
	RowIndex           int       `json:"rowIndex"`
	DynamicFields      *Fields   `json:"dynamicFields"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasResume reports whether a resume URL was provided
func (c *Candidate) HasResume() bool {
	return c.ResumeURL != "" && c.ResumeURL != NoResume
}
