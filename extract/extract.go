// Package extract turns candidate resume URLs into plain text.
//
// A resume is downloaded by the first Backend that handles its URL (Google
// Drive, then plain HTTP) and read by a TextOracle. Failures never fail the
// stage: the message is stored as the resume text and the candidate is marked
// extracted so scoring can still run.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/store"
)

// Resume text recorded when no text could be produced
const (
	NoResumeText   = "No resume provided"
	UnreadableText = "Unable to extract text"

	errorTextPrefix = "Error extracting text: "
)

// Defaults for the extraction stage
const (
	DefaultMinTextLength = 50
	DefaultConcurrency   = 3
)

// ErrNoBackend is returned for URLs no backend can download
var ErrNoBackend = errors.New("no download backend for resume URL")

// Extractor downloads and reads resumes
type Extractor struct {
	backends      []Backend
	oracle        TextOracle
	minTextLength int
	logger        *zap.SugaredLogger
}

// New creates an Extractor. Backends are tried in order.
func New(oracle TextOracle, minTextLength int, logger *zap.SugaredLogger, backends ...Backend) *Extractor {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Extractor{
		backends:      backends,
		oracle:        oracle,
		minTextLength: minTextLength,
		logger:        logger.Named("extract"),
	}
}

// Extract returns the resume text of c. A missing resume and text that is too
// short are not errors; they yield the fixed messages above.
func (e *Extractor) Extract(ctx context.Context, c *model.Candidate) (Result, error) {
	if !c.HasResume() {
		return Result{Text: NoResumeText}, nil
	}

	backend := e.backendFor(c.ResumeURL)
	if backend == nil {
		return Result{}, errors.Wrapf(ErrNoBackend, "%s", c.ResumeURL)
	}

	doc, err := backend.Download(ctx, c.ResumeURL)
	if err != nil {
		return Result{}, err
	}

	res, err := e.oracle.Extract(ctx, doc)
	if err != nil {
		return Result{}, err
	}
	if len(res.Text) < e.minTextLength {
		e.logger.Debugw("Resume text too short", "candidate_id", c.ID, "length", len(res.Text))
		return Result{Text: UnreadableText, Scanned: res.Scanned}, nil
	}

	e.logger.Debugw("Resume extracted",
		"candidate_id", c.ID,
		"backend", backend.Name(),
		"chars", len(res.Text),
		"scanned", res.Scanned)
	return res, nil
}

func (e *Extractor) backendFor(resumeURL string) Backend {
	for _, b := range e.backends {
		if b.Handles(resumeURL) {
			return b
		}
	}
	return nil
}

// Summary counts one extraction stage run
type Summary struct {
	Total     int
	Extracted int
	Failed    int
	Skipped   int // already extracted
}

// ExtractAll extracts every candidate of a job that has no text yet, with at
// most concurrency downloads in flight. Only store failures and cancellation
// are returned; per-candidate errors are stored as the resume text.
func (e *Extractor) ExtractAll(ctx context.Context, s store.RecordStore, jobID string, concurrency int, progress func(done, total int)) (*Summary, error) {
	candidates, err := s.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	sum := &Summary{Total: len(candidates)}
	var done, failed, extracted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, c := range candidates {
		if c.IsTextExtracted {
			sum.Skipped++
			if progress != nil {
				progress(int(done.Add(1)), sum.Total)
			}
			continue
		}
		c := c
		g.Go(func() error {
			res, err := e.Extract(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				e.logger.Warnw("Resume extraction failed", "job_id", jobID, "candidate_id", c.ID, "error", err)
				res = Result{Text: fmt.Sprintf("%s%v", errorTextPrefix, err)}
			} else {
				extracted.Add(1)
			}

			c.ResumeText = res.Text
			c.IsResumeScanned = res.Scanned
			c.IsTextExtracted = true
			if err := s.UpdateCandidate(gctx, c); err != nil {
				return err
			}
			if progress != nil {
				progress(int(done.Add(1)), sum.Total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum.Extracted = int(extracted.Load())
	sum.Failed = int(failed.Load())
	e.logger.Infow("Text extraction finished",
		"job_id", jobID,
		"total", sum.Total,
		"extracted", sum.Extracted,
		"failed", sum.Failed,
		"skipped", sum.Skipped)
	return sum, nil
}

// Readable reports whether text is real resume content rather than one of
// the messages stored when extraction produced nothing
func Readable(text string, minLength int) bool {
	if minLength <= 0 {
		minLength = DefaultMinTextLength
	}
	text = strings.TrimSpace(text)
	if text == NoResumeText || text == UnreadableText || strings.HasPrefix(text, errorTextPrefix) {
		return false
	}
	return len(text) >= minLength
}
