// Package errors defines the staging error taxonomy used throughout docstage.
package errors

import "fmt"

// StageError represents a staging API error with a machine-readable code,
// human-readable message, HTTP status code, and optional extra fields.
type StageError struct {
	// Code is the error code (e.g., "NoSuchBatch", "InvalidBatch").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 400).
	HTTPStatus int
	// ExtraFields holds additional key-value pairs included in the JSON error response.
	ExtraFields map[string]string
}

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	return fmt.Sprintf("StageError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithExtra returns a copy of the StageError with the given extra field set.
func (e *StageError) WithExtra(key, value string) *StageError {
	cp := *e
	if cp.ExtraFields == nil {
		cp.ExtraFields = make(map[string]string)
	}
	cp.ExtraFields[key] = value
	return &cp
}

// WithMessage returns a copy of the StageError with a more specific message.
// The code and HTTP status are preserved so callers can still classify it.
func (e *StageError) WithMessage(format string, args ...any) *StageError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Is reports whether target is a StageError with the same code. This lets
// callers match wrapped errors against the sentinel values with errors.Is.
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	return ok && t.Code == e.Code
}

// Pre-defined staging errors for common conditions.
var (
	// ErrInvalidTenantID is returned when the tenant identifier violates the
	// identifier grammar.
	ErrInvalidTenantID = &StageError{
		Code:       "InvalidTenantId",
		Message:    "The specified tenant id is not valid",
		HTTPStatus: 400,
	}

	// ErrInvalidBatchID is returned when the batch identifier violates the
	// identifier grammar.
	ErrInvalidBatchID = &StageError{
		Code:       "InvalidBatchId",
		Message:    "The specified batch id is not valid",
		HTTPStatus: 400,
	}

	// ErrInvalidArgument is returned when a request argument value is invalid
	// (bad pagination parameters, bad part metadata).
	ErrInvalidArgument = &StageError{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		HTTPStatus: 400,
	}

	// ErrInvalidBatch is returned when the uploaded content is unacceptable:
	// malformed JSON, a schema violation, or an attachment referenced before
	// it was uploaded. The in-progress directory is cleaned up.
	ErrInvalidBatch = &StageError{
		Code:       "InvalidBatch",
		Message:    "The uploaded batch content is not valid",
		HTTPStatus: 400,
	}

	// ErrIncompleteBatch is returned when the upload stream failed mid-read.
	// The in-progress directory is cleaned up.
	ErrIncompleteBatch = &StageError{
		Code:       "IncompleteBatch",
		Message:    "The upload stream ended before the batch was complete",
		HTTPStatus: 400,
	}

	// ErrNoSuchBatch is returned when the specified batch does not exist.
	ErrNoSuchBatch = &StageError{
		Code:       "NoSuchBatch",
		Message:    "The specified batch does not exist",
		HTTPStatus: 404,
	}

	// ErrStagingFailure is returned for unexpected local I/O failures
	// (disk full, permission denied) while staging a batch.
	ErrStagingFailure = &StageError{
		Code:       "StagingError",
		Message:    "The batch could not be staged due to a storage failure",
		HTTPStatus: 500,
	}

	// ErrStatusUnavailable is returned when status computation was interrupted
	// (e.g., shutdown mid-sample). Callers may retry.
	ErrStatusUnavailable = &StageError{
		Code:       "StatusUnavailable",
		Message:    "Batch status is temporarily unavailable. Please retry.",
		HTTPStatus: 503,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &StageError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
