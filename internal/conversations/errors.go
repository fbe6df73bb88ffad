package conversations

import "errors"

var (
	// ErrNotFound covers missing conversations and other tenants' ones alike.
	ErrNotFound     = errors.New("conversation not found")
	ErrInvalidInput = errors.New("invalid input")
)
