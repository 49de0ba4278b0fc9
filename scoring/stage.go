package scoring

import (
	"context"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/store"
)

// Summary counts one scoring stage run
type Summary struct {
	Total         int
	Scored        int
	Failed        int
	Skipped       int // already scored
	SortedResults []model.SortedResult
}

// ScoreAll scores every candidate of job that is not scored yet and returns
// the ranked shortlist. Per-candidate model failures are stored on the
// candidate; only store failures and cancellation are returned.
func (s *Scorer) ScoreAll(ctx context.Context, st store.RecordStore, job *model.Job, progress func(done, total int)) (*Summary, error) {
	candidates, err := st.ListCandidates(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	positionField := ""
	doc, err := st.GetRawDocument(ctx, job.ID)
	switch {
	case err == nil:
		if doc.FieldMapping != nil {
			positionField = doc.FieldMapping.PositionField
		}
	case !errors.IsNotFoundError(err):
		return nil, err
	}

	sum := &Summary{Total: len(candidates)}
	var done, scored, failed atomic.Int64
	report := func() {
		if progress != nil {
			progress(int(done.Add(1)), sum.Total)
		}
	}

	limit := 1
	if gate := s.throttle.Gate; gate != nil {
		limit = gate.Limit()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, c := range candidates {
		if c.IsScored {
			sum.Skipped++
			report()
			continue
		}

		in := Input{
			Job:             job,
			CandidateID:     c.ID,
			ResumeText:      c.ResumeText,
			AppliedPosition: AppliedPosition(positionField, c.DynamicFields),
			DynamicFields:   c.DynamicFields,
		}

		c := c
		g.Go(func() error {
			res := s.Score(gctx, in)
			if res.Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			score := res.MatchScore
			c.MatchTier = res.MatchTier
			c.MatchScore = &score
			c.ReviewComment = res.ReviewComment
			c.Questions = res.Questions
			c.ImportantQuestions = res.ImportantQuestions
			c.IsScored = true
			if err := st.UpdateCandidate(gctx, c); err != nil {
				return err
			}

			if res.Err != nil {
				failed.Add(1)
			} else {
				scored.Add(1)
				if err := st.IncrementReviewed(gctx, job.ID); err != nil {
					return err
				}
			}
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum.Scored = int(scored.Load())
	sum.Failed = int(failed.Load())

	all, err := st.ListCandidates(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	sum.SortedResults = SortedResults(all)

	s.logger.Infow("Scoring finished",
		"job_id", job.ID,
		"total", sum.Total,
		"scored", sum.Scored,
		"failed", sum.Failed,
		"skipped", sum.Skipped)
	return sum, nil
}

// SortedResults ranks candidates with a score, highest first. Equal scores
// keep their input order.
func SortedResults(candidates []*model.Candidate) []model.SortedResult {
	out := make([]model.SortedResult, 0, len(candidates))
	for _, c := range candidates {
		if c.MatchScore == nil {
			continue
		}
		out = append(out, model.SortedResult{
			CandidateID: c.ID,
			MatchTier:   c.MatchTier,
			MatchScore:  *c.MatchScore,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MatchScore > out[j].MatchScore
	})
	return out
}
