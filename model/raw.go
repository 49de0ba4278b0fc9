package model

import (
	"strings"
	"time"
)

// RawStatus tracks a raw ingest document through fetch and parse
type RawStatus string

const (
	RawPending    RawStatus = "pending"
	RawFetching   RawStatus = "fetching"
	RawParsing    RawStatus = "parsing"
	RawProcessing RawStatus = "processing"
	RawCompleted  RawStatus = "completed"
	RawFailed     RawStatus = "failed"
)

// FieldMapping says which source column feeds which candidate attribute.
//
// Name, email, resume and phone each claim at most one header. DynamicFields
// is every other header, in header order. Position, application date and
// application status are hints: they name one of the dynamic fields and never
// remove it from DynamicFields.
type FieldMapping struct {
	NameField              string   `json:"nameField"`
	EmailField             string   `json:"emailField"`
	ResumeURLField         string   `json:"resumeUrlField"`
	PhoneField             string   `json:"phoneField"`
	PositionField          string   `json:"positionField,omitempty"`
	ApplicationDateField   string   `json:"applicationDateField,omitempty"`
	ApplicationStatusField string   `json:"applicationStatusField,omitempty"`
	DynamicFields          []string `json:"dynamicFields"`
}

// Claimed returns the non-empty identity fields
func (m FieldMapping) Claimed() []string {
	var out []string
	for _, f := range []string{m.NameField, m.EmailField, m.ResumeURLField, m.PhoneField} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Hints returns the non-empty application hint fields
func (m FieldMapping) Hints() []string {
	var out []string
	for _, f := range []string{m.PositionField, m.ApplicationDateField, m.ApplicationStatusField} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// positionHeaders are the normalized column names that hold the position a
// candidate applied for
var positionHeaders = map[string]bool{
	"position":             true,
	"applied position":     true,
	"position applied for": true,
	"job title":            true,
	"job posting title":    true,
	"role":                 true,
}

// NormalizeHeader lowercases h, treats '_' and '-' as spaces and collapses
// whitespace
func NormalizeHeader(h string) string {
	h = strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(h))
	return strings.Join(strings.Fields(h), " ")
}

// IsPositionHeader reports whether the whole header names the applied
// position. "Job ID" or "Job Requisition" do not.
func IsPositionHeader(h string) bool {
	return positionHeaders[NormalizeHeader(h)]
}

// RawLog records what happened to one source row during separation
type RawLog struct {
	RowIndex int       `json:"rowIndex"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// RawIngestDocument is the fetched source data of one job
type RawIngestDocument struct {
	JobID         string        `json:"jobId"`
	Status        RawStatus     `json:"status"`
	Headers       []string      `json:"headers"`
	Entries       []*Fields     `json:"entries"`
	FieldMapping  *FieldMapping `json:"fieldMapping,omitempty"`
	Logs          []RawLog      `json:"logs,omitempty"`
	TotalRows     int           `json:"totalRows"`
	ProcessedRows int           `json:"processedRows"`
	SkippedRows   int           `json:"skippedRows"`
	SheetTitle    string        `json:"sheetTitle,omitempty"`
	RangeUsed     string        `json:"rangeUsed,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
