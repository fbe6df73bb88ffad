package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded matches every *ExceededError via errors.Is.
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrUnknownTier   = errors.New("unknown tier")
	ErrInvalidAmount = errors.New("invalid quota amount")
)

// ExceededError is a denied admission: which limit and the usage at the time.
type ExceededError struct {
	Kind      Kind
	Tier      string
	Limit     int64
	Used      int64
	Requested int64
}

func (e *ExceededError) Error() string {
	switch e.Kind {
	case KindDocuments:
		return "document-count limit reached"
	case KindStorage:
		return "storage limit reached"
	case KindQueries:
		return "daily query limit reached"
	}
	return fmt.Sprintf("%s limit reached", e.Kind)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Details is the error payload handed to API clients.
func (e *ExceededError) Details() map[string]any {
	return map[string]any{
		"kind":      string(e.Kind),
		"tier":      e.Tier,
		"limit":     e.Limit,
		"used":      e.Used,
		"requested": e.Requested,
	}
}

// AsExceeded unwraps err into an *ExceededError when it is one.
func AsExceeded(err error) (*ExceededError, bool) {
	var qe *ExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
