// Package normalize turns raw source rows into Candidate records.
package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/fieldmap"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/store"
)

// ErrNoCandidates fails the separation stage when the source had no rows
var ErrNoCandidates = errors.New("No candidates found")

// DefaultProgressEvery reports progress on the first, every 10th and the last row
const DefaultProgressEvery = 10

// ProgressFunc receives rows processed so far out of total
type ProgressFunc func(current, total int)

// Result summarises one separation run
type Result struct {
	Total      int
	Created    int
	Duplicates int
	Skipped    int // empty rows, duplicates and row errors
}

// Normalizer separates candidates out of a job's raw document
type Normalizer struct {
	store         store.RecordStore
	progressEvery int
	logger        *zap.SugaredLogger
}

// New creates a Normalizer
func New(s store.RecordStore, progressEvery int, logger *zap.SugaredLogger) *Normalizer {
	if progressEvery < 1 {
		progressEvery = DefaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Normalizer{store: s, progressEvery: progressEvery, logger: logger.Named("normalize")}
}

// SyntheticEmail is the stand-in identity of a row without an email
func SyntheticEmail(job *model.Job, rowIndex int) string {
	slug := job.SourceType.Slug()
	return fmt.Sprintf("%s_%s_%d@%s.local", slug, job.ShortID(), rowIndex, slug)
}

// IsSynthetic reports whether email was made up by SyntheticEmail
func IsSynthetic(email string) bool {
	return strings.HasSuffix(email, ".local")
}

// Separate creates one candidate per usable row. Rows already present (same
// job and email) are skipped, so re-running is safe. Only a missing raw
// document or an empty one fails the run; row problems are logged and counted.
func (n *Normalizer) Separate(ctx context.Context, job *model.Job, progress ProgressFunc) (*Result, error) {
	doc, err := n.store.GetRawDocument(ctx, job.ID)
	if err != nil {
		return nil, errors.Wrap(err, "raw document unavailable")
	}
	if len(doc.Entries) == 0 {
		return nil, ErrNoCandidates
	}

	// Every header outside the identity fields is carried as a dynamic field,
	// whatever a stored mapping listed
	var m model.FieldMapping
	switch {
	case doc.FieldMapping == nil:
		m = fieldmap.Heuristic(doc.Headers)
		n.logger.Warnw("Raw document has no field mapping, using heuristic", "job_id", job.ID)
	case len(doc.Headers) > 0:
		m = fieldmap.Sanitize(*doc.FieldMapping, doc.Headers)
	default:
		m = *doc.FieldMapping
	}
	mapping := &m

	res := &Result{Total: len(doc.Entries)}
	for i, entry := range doc.Entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, err := n.separateRow(ctx, job, mapping, i, entry)
		switch {
		case err != nil:
			res.Skipped++
			n.rowLog(ctx, job.ID, i, fmt.Sprintf("Failed to save candidate: %v", err))
			n.logger.Warnw("Row failed", "job_id", job.ID, "row_index", i, "error", err)
		case outcome == rowCreated:
			res.Created++
		case outcome == rowDuplicate:
			res.Duplicates++
			res.Skipped++
		default:
			res.Skipped++
		}

		current := i + 1
		if progress != nil && (current == 1 || current%n.progressEvery == 0 || current == res.Total) {
			progress(current, res.Total)
		}
	}

	doc.Status = model.RawCompleted
	doc.ProcessedRows = res.Created
	doc.SkippedRows = res.Skipped
	doc.TotalRows = res.Total
	if err := n.store.SaveRawDocument(ctx, doc); err != nil {
		return nil, err
	}

	n.logger.Infow("Candidates separated",
		"job_id", job.ID,
		"created", res.Created,
		"skipped", res.Skipped,
		"duplicates", res.Duplicates)
	return res, nil
}

type rowOutcome int

const (
	rowEmpty rowOutcome = iota
	rowDuplicate
	rowCreated
)

func (n *Normalizer) separateRow(ctx context.Context, job *model.Job, m *model.FieldMapping, rowIndex int, entry *model.Fields) (rowOutcome, error) {
	name := field(entry, m.NameField)
	email := strings.ToLower(field(entry, m.EmailField))
	resume := field(entry, m.ResumeURLField)

	if name == "" && email == "" && resume == "" {
		n.rowLog(ctx, job.ID, rowIndex, "Skipped: no name, email or resume")
		return rowEmpty, nil
	}
	if resume == "" {
		resume = model.NoResume
	}

	synthetic := email == ""
	if synthetic {
		email = SyntheticEmail(job, rowIndex)
	}

	exists, err := n.store.CandidateExists(ctx, job.ID, email)
	if err != nil {
		return 0, err
	}
	if exists {
		n.rowLog(ctx, job.ID, rowIndex, fmt.Sprintf("Skipped: candidate %s already exists", email))
		return rowDuplicate, nil
	}
	if synthetic && resume != model.NoResume {
		dup, err := n.store.CandidateWithResumeURL(ctx, job.ID, resume)
		if err != nil {
			return 0, err
		}
		if dup {
			n.rowLog(ctx, job.ID, rowIndex, "Skipped: resume already belongs to a candidate")
			return rowDuplicate, nil
		}
	}

	c := &model.Candidate{
		ID:            uuid.NewString(),
		JobID:         job.ID,
		Name:          name,
		Email:         email,
		Phone:         field(entry, m.PhoneField),
		ResumeURL:     resume,
		RowIndex:      rowIndex,
		DynamicFields: dynamicFields(entry, m),
	}
	if err := n.store.CreateCandidate(ctx, c); err != nil {
		if errors.IsConflictError(err) {
			n.rowLog(ctx, job.ID, rowIndex, fmt.Sprintf("Skipped: candidate %s already exists", email))
			return rowDuplicate, nil
		}
		return 0, err
	}
	n.rowLog(ctx, job.ID, rowIndex, fmt.Sprintf("Created candidate %s", email))
	return rowCreated, nil
}

// dynamicFields copies every non-identity column in header order
func dynamicFields(entry *model.Fields, m *model.FieldMapping) *model.Fields {
	out := model.NewFields()
	for _, key := range m.DynamicFields {
		out.Set(key, entry.Value(key))
	}
	return out
}

func field(entry *model.Fields, key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(entry.Value(key))
}

func (n *Normalizer) rowLog(ctx context.Context, jobID string, rowIndex int, message string) {
	if err := n.store.AppendRawLog(ctx, jobID, rowIndex, message); err != nil {
		n.logger.Debugw("Failed to append row log", "job_id", jobID, "row_index", rowIndex, "error", err)
	}
}
