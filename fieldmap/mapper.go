// Package fieldmap works out which source column holds which candidate attribute.
//
// The language model is asked first. Its reply is validated and sanitized so
// every named field is a real header; when the model keeps failing, a
// substring heuristic takes over. Either way each header ends up either
// claimed by exactly one identity field or listed in DynamicFields.
package fieldmap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
)

// Config tunes the oracle retry loop
type Config struct {
	Attempts   int
	BaseDelay  time.Duration // doubled after every failed attempt
	Jitter     time.Duration // uniform extra delay in [0, Jitter)
	SampleRows int
}

// DefaultConfig is 6 attempts from 1s doubling with up to 200ms jitter
func DefaultConfig() Config {
	return Config{
		Attempts:   6,
		BaseDelay:  time.Second,
		Jitter:     200 * time.Millisecond,
		SampleRows: 5,
	}
}

// ConfigFrom reads the field_mapper section
func ConfigFrom(cfg am.FieldMapperConfig) Config {
	out := DefaultConfig()
	if cfg.Attempts > 0 {
		out.Attempts = cfg.Attempts
	}
	if cfg.BaseDelayMS > 0 {
		out.BaseDelay = time.Duration(cfg.BaseDelayMS) * time.Millisecond
	}
	if cfg.JitterMS > 0 {
		out.Jitter = time.Duration(cfg.JitterMS) * time.Millisecond
	}
	if cfg.SampleRows > 0 {
		out.SampleRows = cfg.SampleRows
	}
	return out
}

// Result is an inferred mapping and how it was obtained
type Result struct {
	Mapping   model.FieldMapping
	Heuristic bool // true when the oracle never produced a usable reply
	Attempts  int  // oracle calls made
	LastError error
}

// Mapper infers field mappings
type Mapper struct {
	oracle ai.Oracle
	keys   ai.KeySelector
	cfg    Config
	logger *zap.SugaredLogger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New creates a Mapper. A nil oracle means heuristic only.
func New(oracle ai.Oracle, keys ai.KeySelector, cfg Config, logger *zap.SugaredLogger) *Mapper {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.SampleRows < 1 {
		cfg.SampleRows = DefaultConfig().SampleRows
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Mapper{
		oracle: oracle,
		keys:   keys,
		cfg:    cfg,
		logger: logger.Named("fieldmap"),
		sleep:  sleepCtx,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
	}
}

// SampleSize is how many leading rows Infer looks at
func (m *Mapper) SampleSize() int {
	return m.cfg.SampleRows
}

var mappingSchema = ai.MustCompileSchema("field_mapping.json", `{
  "type": "object",
  "properties": {
    "nameField":              {"type": ["string", "null"]},
    "emailField":             {"type": ["string", "null"]},
    "resumeUrlField":         {"type": ["string", "null"]},
    "phoneField":             {"type": ["string", "null"]},
    "positionField":          {"type": ["string", "null"]},
    "applicationDateField":   {"type": ["string", "null"]},
    "applicationStatusField": {"type": ["string", "null"]},
    "dynamicFields":          {"type": ["array", "null"], "items": {"type": "string"}}
  },
  "required": ["nameField", "emailField", "resumeUrlField"]
}`)

// Infer maps headers to candidate attributes using the oracle, falling back to
// Heuristic once every attempt failed. Only ctx cancellation is an error.
func (m *Mapper) Infer(ctx context.Context, headers []string, sample []*model.Fields) (*Result, error) {
	if len(sample) > m.cfg.SampleRows {
		sample = sample[:m.cfg.SampleRows]
	}

	result := &Result{}
	if m.oracle == nil {
		result.Mapping = Heuristic(headers)
		result.Heuristic = true
		return result, nil
	}

	ctx = tracker.WithOperation(ctx, tracker.OperationFieldMapping)
	prompt := buildPrompt(headers, sample)

	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		if attempt > 1 {
			delay := m.backoff(attempt - 1)
			m.logger.Debugw("Retrying field mapping", "attempt", attempt, "delay", delay)
			if err := m.sleep(ctx, delay); err != nil {
				return nil, errors.Wrap(err, "field mapping cancelled")
			}
		}

		result.Attempts = attempt
		mapping, err := m.ask(ctx, prompt)
		if err == nil {
			result.Mapping = Sanitize(mapping, headers)
			result.LastError = nil
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "field mapping cancelled")
		}

		result.LastError = err
		m.logger.Warnw("Field mapping attempt failed",
			"attempt", attempt,
			"max_attempts", m.cfg.Attempts,
			"error", err)
	}

	m.logger.Infow("Field mapping falling back to heuristic",
		"attempts", result.Attempts,
		"last_error", result.LastError)
	result.Mapping = Heuristic(headers)
	result.Heuristic = true
	return result, nil
}

func (m *Mapper) ask(ctx context.Context, prompt string) (model.FieldMapping, error) {
	var mapping model.FieldMapping
	reply, err := ai.CompleteWith(ctx, m.oracle, m.keys, prompt)
	if err != nil {
		return mapping, err
	}
	if err := mappingSchema.Decode(reply, &mapping); err != nil {
		return mapping, err
	}
	return mapping, nil
}

// backoff is BaseDelay·2^(n-1) plus jitter, for the n-th retry
func (m *Mapper) backoff(n int) time.Duration {
	return m.cfg.BaseDelay<<(n-1) + m.jitter(m.cfg.Jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func buildPrompt(headers []string, sample []*model.Fields) string {
	headerJSON, _ := json.MarshalIndent(headers, "", "  ")
	sampleJSON, _ := json.MarshalIndent(sample, "", "  ")

	var b strings.Builder
	b.WriteString("You are analyzing tabular candidate data to identify field mappings for candidate information.\n\n")
	b.WriteString("Your task:\n")
	b.WriteString("1. Identify which column contains the candidate's full name\n")
	b.WriteString("2. Identify which column contains the email address\n")
	b.WriteString("3. Identify which column contains the resume URL (usually ends with .pdf, contains drive.google.com, or links a document)\n")
	b.WriteString("4. Identify which column contains the phone number\n")
	b.WriteString("5. List all other columns as dynamic fields\n")
	b.WriteString("6. Among the dynamic fields, identify the job application columns (position applied for, application date, application status)\n\n")
	fmt.Fprintf(&b, "Headers:\n%s\n\n", headerJSON)
	fmt.Fprintf(&b, "Sample rows (first %d):\n%s\n\n", len(sample), sampleJSON)
	b.WriteString("Return ONLY valid JSON in this exact format, no explanation text:\n")
	b.WriteString(`{
  "nameField": "Full Name",
  "emailField": "Email",
  "resumeUrlField": "Resume URL",
  "phoneField": "Phone",
  "positionField": "Position",
  "applicationDateField": "Applied On",
  "applicationStatusField": "Status",
  "dynamicFields": ["Position", "Applied On", "Status", "Experience"]
}`)
	b.WriteString("\n\nUse the EXACT header names. If a field cannot be identified, use null for it.\n")
	return b.String()
}
