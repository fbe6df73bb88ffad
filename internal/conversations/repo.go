package conversations

import "context"

// Repo persists conversations and their messages. Every method is scoped to
// a tenant; a conversation of another tenant is reported as ErrNotFound.
type Repo interface {
	Create(ctx context.Context, conv Conversation) (Conversation, error)
	Get(ctx context.Context, tenantID, id string) (Conversation, error)
	// List orders by UpdatedAt, newest first.
	List(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error)
	// Append assigns consecutive sequence numbers to msgs, in order, and
	// returns them as stored. Appends to one conversation are serialized.
	Append(ctx context.Context, tenantID, conversationID string, msgs ...Message) ([]Message, error)
	// Messages orders by Seq ascending.
	Messages(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]Message, error)
	// DeleteEmpty removes a conversation that has never had a message
	// appended. A conversation with messages is left alone.
	DeleteEmpty(ctx context.Context, tenantID, id string) error
}
