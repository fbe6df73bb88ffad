package documents

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing, deleted and other tenants' documents alike.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means the document was not in the expected status.
	ErrConflict = errors.New("document status conflict")
	// ErrTombstoned means the document is awaiting deletion.
	ErrTombstoned = errors.New("document is pending deletion")
	// ErrInvalidInput is returned for malformed identifiers or options.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError rejects an upload before any quota is reserved.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "file validation failed: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TransitionError reports a change that is not an edge of the state machine
// or that would break a result invariant.
type TransitionError struct {
	From, To Status
	Reason   string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition %s->%s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is lets callers treat invalid transitions as conflicts.
func (e *TransitionError) Is(target error) bool {
	return target == ErrConflict
}
