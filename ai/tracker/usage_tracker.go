// Package tracker records every language-model call so operators can see
// volume, failures and spend per job.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/ai"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/logger"
)

// Operation names the pipeline step that called the model
type Operation string

const (
	OperationFieldMapping Operation = "field_mapping"
	OperationScoring      Operation = "scoring"
	OperationUnknown      Operation = "unknown"
)

type operationKey struct{}

// WithOperation tags model calls made with ctx
func WithOperation(ctx context.Context, op Operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFromContext returns the tag set by WithOperation
func OperationFromContext(ctx context.Context) Operation {
	if op, ok := ctx.Value(operationKey{}).(Operation); ok {
		return op
	}
	return OperationUnknown
}

// ModelUsage is one recorded model call
type ModelUsage struct {
	ID               int64
	Operation        Operation
	JobID            string
	ModelName        string
	ModelProvider    string
	RequestTimestamp time.Time
	Duration         time.Duration
	PromptTokens     *int
	CompletionTokens *int
	Cost             *float64
	Success          bool
	ErrorMessage     string
}

// UsageTracker writes ModelUsage rows. A nil *UsageTracker records nothing.
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a tracker on the migrated database
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// NewUsage starts a record stamped with the operation and job carried by ctx
func NewUsage(ctx context.Context, provider, model string, started time.Time) *ModelUsage {
	return &ModelUsage{
		Operation:        OperationFromContext(ctx),
		JobID:            logger.JobIDFromContext(ctx),
		ModelName:        model,
		ModelProvider:    provider,
		RequestTimestamp: started,
		Duration:         time.Since(started),
	}
}

// TrackUsage inserts one record
func (t *UsageTracker) TrackUsage(ctx context.Context, usage *ModelUsage) error {
	if t == nil {
		return nil
	}
	var errMsg sql.NullString
	if usage.ErrorMessage != "" {
		errMsg = sql.NullString{String: usage.ErrorMessage, Valid: true}
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO ai_model_usage (
			operation, job_id, model_name, model_provider, request_timestamp,
			duration_ms, prompt_tokens, completion_tokens, cost, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(usage.Operation), usage.JobID, usage.ModelName, usage.ModelProvider,
		usage.RequestTimestamp.UTC(), usage.Duration.Milliseconds(),
		usage.PromptTokens, usage.CompletionTokens, usage.Cost, usage.Success, errMsg,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record model usage")
	}
	return nil
}

// UsageStats aggregates calls since a point in time
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
	UniqueModels       int     `json:"unique_models"`
}

// GetUsageStats summarizes calls made since the given time; jobID filters when non-empty
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time, jobID string) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(SUM(COALESCE(prompt_tokens, 0) + COALESCE(completion_tokens, 0)), 0),
			COALESCE(SUM(COALESCE(cost, 0)), 0),
			COUNT(DISTINCT model_name)
		FROM ai_model_usage
		WHERE request_timestamp >= ?`
	args := []interface{}{since.UTC()}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}

	var stats UsageStats
	err := t.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.TotalTokens, &stats.TotalCost, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read usage stats")
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// ModelBreakdown is usage of one model
type ModelBreakdown struct {
	ModelName     string  `json:"model_name"`
	ModelProvider string  `json:"model_provider"`
	RequestCount  int     `json:"request_count"`
	TotalCost     float64 `json:"total_cost"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// GetModelBreakdown groups successful calls by model, most expensive first
func (t *UsageTracker) GetModelBreakdown(ctx context.Context, since time.Time) ([]ModelBreakdown, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT model_name, model_provider, COUNT(*),
		       COALESCE(SUM(COALESCE(cost, 0)), 0), AVG(duration_ms)
		FROM ai_model_usage
		WHERE request_timestamp >= ? AND success = 1
		GROUP BY model_name, model_provider
		ORDER BY 4 DESC, 3 DESC`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model breakdown")
	}
	defer rows.Close()

	var out []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.ModelName, &mb.ModelProvider, &mb.RequestCount, &mb.TotalCost, &mb.AvgDurationMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan model breakdown")
		}
		out = append(out, mb)
	}
	return out, rows.Err()
}

// Wrap records every call made through o. Oracles that report token usage
// themselves (openrouter) are tracked inside their client instead.
func Wrap(o ai.Oracle, t *UsageTracker, provider, model string, log *zap.SugaredLogger) ai.Oracle {
	if t == nil {
		return o
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &trackedOracle{inner: o, tracker: t, provider: provider, model: model, logger: log}
}

type trackedOracle struct {
	inner    ai.Oracle
	tracker  *UsageTracker
	provider string
	model    string
	logger   *zap.SugaredLogger
}

func (o *trackedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	return o.record(ctx, func() (string, error) { return o.inner.Complete(ctx, prompt) })
}

func (o *trackedOracle) CompleteWithKey(ctx context.Context, apiKey, prompt string) (string, error) {
	ko, ok := o.inner.(ai.KeyedOracle)
	if !ok {
		return o.Complete(ctx, prompt)
	}
	return o.record(ctx, func() (string, error) { return ko.CompleteWithKey(ctx, apiKey, prompt) })
}

func (o *trackedOracle) record(ctx context.Context, call func() (string, error)) (string, error) {
	started := time.Now()
	out, err := call()

	usage := NewUsage(ctx, o.provider, o.model, started)
	usage.Success = err == nil
	if err != nil {
		usage.ErrorMessage = err.Error()
	}
	if trackErr := o.tracker.TrackUsage(context.WithoutCancel(ctx), usage); trackErr != nil {
		o.logger.Warnw("Failed to track model usage", "error", trackErr, "model", o.model)
	}
	return out, err
}
