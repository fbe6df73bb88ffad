package documents

import "time"

// Status is the lifecycle state of a document.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the state machine.
// processing -> processing is a restart after a crashed attempt.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusReceived:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusProcessing || to == StatusProcessed || to == StatusFailed
	}
	return false
}

// Document is an uploaded file owned by a tenant.
type Document struct {
	ID                  string
	TenantID            string
	StorageKey          string
	FileName            string
	SizeBytes           int64
	ContentType         string
	Status              Status
	ChunkCount          int
	ErrorDetail         string
	DeletePending       bool
	Attempts            int
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Queryable reports whether the document may appear in retrieval results.
func (d Document) Queryable() bool {
	return d.Status == StatusProcessed && !d.DeletePending
}

// ListOptions pages and filters List.
type ListOptions struct {
	Limit  int
	Offset int
	Status Status
}

// Change is a compare-and-set status update.
type Change struct {
	From        Status
	To          Status
	ChunkCount  int
	ErrorDetail string
	// RequireLive refuses the change when the document is tombstoned.
	RequireLive bool
}

func (ch Change) validate() error {
	if !CanTransition(ch.From, ch.To) {
		return &TransitionError{From: ch.From, To: ch.To}
	}
	switch ch.To {
	case StatusProcessed:
		if ch.ChunkCount <= 0 {
			return &TransitionError{From: ch.From, To: ch.To, Reason: "processed requires chunks"}
		}
		if ch.ErrorDetail != "" {
			return &TransitionError{From: ch.From, To: ch.To, Reason: "processed cannot carry an error"}
		}
	case StatusFailed:
		if ch.ErrorDetail == "" {
			return &TransitionError{From: ch.From, To: ch.To, Reason: "failed requires error detail"}
		}
		if ch.ChunkCount != 0 {
			return &TransitionError{From: ch.From, To: ch.To, Reason: "failed cannot carry chunks"}
		}
	default:
		if ch.ChunkCount != 0 || ch.ErrorDetail != "" {
			return &TransitionError{From: ch.From, To: ch.To, Reason: "only terminal states carry results"}
		}
	}
	return nil
}

// apply mutates doc for an already validated change.
func (ch Change) apply(doc *Document, now time.Time) {
	doc.Status = ch.To
	doc.ChunkCount = ch.ChunkCount
	doc.ErrorDetail = ch.ErrorDetail
	doc.UpdatedAt = now
	switch ch.To {
	case StatusProcessing:
		doc.Attempts++
		doc.ProcessingStartedAt = &now
	case StatusProcessed:
		doc.ProcessedAt = &now
	}
}

// Label renders the change the way request logs record it.
func (ch Change) Label() string {
	return string(ch.From) + "->" + string(ch.To)
}

// MaxErrorDetail caps stored failure text.
const MaxErrorDetail = 500

// TruncateDetail trims an error message to MaxErrorDetail runes.
func TruncateDetail(s string) string {
	r := []rune(s)
	if len(r) <= MaxErrorDetail {
		return s
	}
	return string(r[:MaxErrorDetail])
}
