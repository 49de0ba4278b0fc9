package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	FieldJobID       = "job_id"
	FieldTaskID      = "task_id"
	FieldCandidateID = "candidate_id"
	FieldOwnerID     = "owner_id"
	FieldStage       = "stage"
	FieldSourceType  = "source_type"
	FieldSourceRef   = "source_ref"
	FieldAttempt     = "attempt"
	FieldComponent   = "component"
	FieldError       = "error"
	FieldCount       = "count"
	FieldTotalCount  = "total_count"
	FieldDurationMS  = "duration_ms"
	FieldPercentage  = "percentage"
	FieldRequestID   = "request_id"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	stageKey     contextKey = "logger_stage"
	requestIDKey contextKey = "logger_request_id"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithStage adds the executing stage name to the context for logging
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// WithRequestID adds an HTTP request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// JobIDFromContext returns the job ID set by WithJobID, or ""
func JobIDFromContext(ctx context.Context) string {
	jobID, _ := ctx.Value(jobIDKey).(string)
	return jobID
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
		fields = append(fields, FieldStage, stage)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named child of the global logger. Constructors
// use it when the caller passes a nil logger.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
