// Package errors is the error toolkit used across intake.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, annotates
// and inspects errors the same way:
//
//	if err := store.UpdateJob(ctx, job); err != nil {
//	    err = errors.Wrap(err, "failed to persist stage transition")
//	    return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
//	}
//
// Stage functions return plain wrapped errors; the pipeline decides whether a
// failure is per-item (degraded in place) or stage-level (retried).
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Join         = crdb.Join
)

// Mark makes err match reference under Is without changing its message
var Mark = crdb.Mark

// Hints and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors. Wrap them to add context; check them with Is.
var (
	// ErrNotFound indicates the requested job, candidate or document does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a malformed submission or parameter
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates an identity collision (e.g. duplicate candidate email)
	ErrConflict = New("resource conflict")

	// ErrServiceUnavailable indicates a required external service is not configured or reachable
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError reports whether err is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsServiceUnavailableError reports whether err is or wraps ErrServiceUnavailable.
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}
