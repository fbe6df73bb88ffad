package ingest

import (
	"errors"
	"strings"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/shared/retry"
)

// ValidationError means the document produced nothing worth indexing.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// PermanentError is a stage failure that a retry cannot fix.
type PermanentError struct {
	Stage string
	Err   error
}

func (e *PermanentError) Error() string {
	return e.Stage + ": " + errString(e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// TransientError is re-exported so callers can match pipeline failures
// without importing the retry package.
type TransientError = retry.TransientError

// stageError tags err with the stage it came from. Errors already marked
// permanent by the retry policy become PermanentError.
func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		return &PermanentError{Stage: stage, Err: perm.Err}
	}
	var already *PermanentError
	var invalid *ValidationError
	if errors.As(err, &already) || errors.As(err, &invalid) {
		return err
	}
	return &stageFailure{stage: stage, err: err}
}

type stageFailure struct {
	stage string
	err   error
}

func (e *stageFailure) Error() string { return e.stage + ": " + errString(e.err) }
func (e *stageFailure) Unwrap() error { return e.err }

// errorDetail renders the stored failure text: one line, bounded.
func errorDetail(err error) string {
	detail := strings.Join(strings.Fields(errString(err)), " ")
	if detail == "" {
		detail = "processing failed"
	}
	return documents.TruncateDetail(detail)
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
