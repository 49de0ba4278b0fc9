// Package scoring rates candidates' resumes against a job with a language model.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/extract"
	"github.com/teranos/intake/model"
	"github.com/teranos/intake/pulse/budget"
)

// DefaultAttempts is how often an invalid or failed reply is retried
const DefaultAttempts = 3

// Review comments for candidates scored without the model
const (
	NoResumeComment = "No resume text available for evaluation"
	mismatchComment = "Applied position %q does not match %q"
)

// ErrNoOracle is returned when scoring runs without a model configured
var ErrNoOracle = errors.New("no scoring model configured")

// Input is everything the scorer looks at for one candidate
type Input struct {
	Job             *model.Job
	CandidateID     string
	ResumeText      string
	AppliedPosition string
	DynamicFields   *model.Fields
}

// Result is the outcome for one candidate. Err is set when every attempt failed;
// the tier and score then fall back to Unqualified and 0.
type Result struct {
	MatchTier          model.MatchTier
	MatchScore         int
	ReviewComment      string
	Questions          []string
	ImportantQuestions []string
	OracleCalled       bool
	Err                error
}

// Scorer calls the oracle through a shared throttle
type Scorer struct {
	oracle        ai.Oracle
	keys          ai.KeySelector
	throttle      *budget.Throttle
	attempts      int
	minTextLength int
	logger        *zap.SugaredLogger
}

// New creates a Scorer. throttle may be nil.
func New(oracle ai.Oracle, keys ai.KeySelector, throttle *budget.Throttle, attempts, minTextLength int, logger *zap.SugaredLogger) *Scorer {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if throttle == nil {
		throttle = &budget.Throttle{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scorer{
		oracle:        oracle,
		keys:          keys,
		throttle:      throttle,
		attempts:      attempts,
		minTextLength: minTextLength,
		logger:        logger.Named("scoring"),
	}
}

// Throttle returns the gate and limiter the scorer waits on
func (s *Scorer) Throttle() *budget.Throttle {
	return s.throttle
}

var replySchema = ai.MustCompileSchema("score_reply.json", `{
  "type": "object",
  "properties": {
    "matchLevel":         {"type": "string", "minLength": 1},
    "matchScore":         {"type": "number", "minimum": 0, "maximum": 100},
    "reviewComment":      {"type": ["string", "null"]},
    "questions":          {"type": ["array", "null"], "items": {"type": "string"}},
    "importantQuestions": {"type": ["array", "null"], "items": {"type": "string"}}
  },
  "required": ["matchLevel", "matchScore"]
}`)

type reply struct {
	MatchLevel         string   `json:"matchLevel"`
	MatchScore         float64  `json:"matchScore"`
	ReviewComment      string   `json:"reviewComment"`
	Questions          []string `json:"questions"`
	ImportantQuestions []string `json:"importantQuestions"`
}

// Score rates one candidate. Position mismatches and missing resume text are
// decided without calling the model.
func (s *Scorer) Score(ctx context.Context, in Input) Result {
	if PositionMismatch(in.AppliedPosition, in.Job.Title) {
		return Result{
			MatchTier:     model.TierUnqualified,
			ReviewComment: fmt.Sprintf(mismatchComment, in.AppliedPosition, in.Job.Title),
		}
	}
	if !extract.Readable(in.ResumeText, s.minTextLength) {
		return Result{MatchTier: model.TierUnqualified, ReviewComment: NoResumeComment}
	}
	if s.oracle == nil {
		return Result{MatchTier: model.TierUnqualified, Err: ErrNoOracle}
	}

	ctx = tracker.WithOperation(ctx, tracker.OperationScoring)
	prompt := buildPrompt(in)

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		var r reply
		err := s.throttle.Do(ctx, func(ctx context.Context) error {
			text, err := ai.CompleteWith(ctx, s.oracle, s.keys, prompt)
			if err != nil {
				return err
			}
			return replySchema.Decode(text, &r)
		})
		if err == nil {
			// scores are whole numbers; a fractional reply is rounded before tiering
			score := int(math.Round(r.MatchScore))
			return Result{
				MatchTier:          model.TierForScore(score),
				MatchScore:         score,
				ReviewComment:      r.ReviewComment,
				Questions:          r.Questions,
				ImportantQuestions: r.ImportantQuestions,
				OracleCalled:       true,
			}
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		lastErr = err
		s.logger.Warnw("Scoring attempt failed",
			"candidate_id", in.CandidateID,
			"attempt", attempt,
			"max_attempts", s.attempts,
			"error", err)
	}

	return Result{
		MatchTier:     model.TierUnqualified,
		ReviewComment: fmt.Sprintf("Error during evaluation: %v", lastErr),
		OracleCalled:  true,
		Err:           lastErr,
	}
}

// normalizePosition folds case and collapses whitespace
func normalizePosition(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// PositionMismatch reports whether the candidate applied for a different
// position than the job's title. An empty side never mismatches.
func PositionMismatch(applied, title string) bool {
	a, t := normalizePosition(applied), normalizePosition(title)
	if a == "" || t == "" {
		return false
	}
	return a != t
}

// AppliedPosition reads the position a candidate applied for from its dynamic
// fields: the mapped position column first, then any column whose whole
// header names a position
func AppliedPosition(positionField string, dynamic *model.Fields) string {
	if positionField != "" {
		if v := strings.TrimSpace(dynamic.Value(positionField)); v != "" {
			return v
		}
	}
	for _, key := range dynamic.Keys() {
		if !model.IsPositionHeader(key) {
			continue
		}
		if v := strings.TrimSpace(dynamic.Value(key)); v != "" {
			return v
		}
	}
	return ""
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are an expert technical recruiter with 20+ years of experience.\n")
	b.WriteString("Evaluate how well a candidate's resume matches the job below.\n\n")
	fmt.Fprintf(&b, "--- JOB POSITION ---\n%s\n\n", in.Job.Title)
	fmt.Fprintf(&b, "--- JOB DESCRIPTION ---\n%s\n\n", in.Job.JobDescription)
	b.WriteString("--- JOB REQUIREMENTS ---\n")
	fmt.Fprintf(&b, "Minimum Qualifications: %s\n", in.Job.MinimumQualifications)
	fmt.Fprintf(&b, "Minimum Skills Required: %s\n\n", in.Job.MinimumSkills)
	if in.DynamicFields.Len() > 0 {
		b.WriteString("--- APPLICATION DETAILS ---\n")
		for _, k := range in.DynamicFields.Keys() {
			if v := in.DynamicFields.Value(k); v != "" {
				fmt.Fprintf(&b, "%s: %s\n", k, v)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "--- RESUME TEXT ---\n%s\n\n", in.ResumeText)
	b.WriteString("Return ONLY valid JSON in this format:\n")
	b.WriteString(`{
  "matchLevel": "High Match" | "Medium Match" | "Low Match" | "Unqualified",
  "matchScore": number (0 to 100),
  "reviewComment": "two or three sentences on fit",
  "questions": ["interview question", ...],
  "importantQuestions": ["question that must be asked", ...]
}`)
	b.WriteString("\n\nScoring guidelines:\n")
	b.WriteString("- 90-100 High Match: fits almost perfectly\n")
	b.WriteString("- 70-89 Medium Match: good but not perfect\n")
	b.WriteString("- 40-69 Low Match: weak but possibly trainable\n")
	b.WriteString("- below 40 Unqualified: does not meet core requirements\n")
	b.WriteString("Focus only on skills, experience and role alignment. Identical resumes get identical scores.\n")
	return b.String()
}
