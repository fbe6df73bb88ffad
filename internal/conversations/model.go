package conversations

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

const (
	// TitleRunes caps titles derived from a first question.
	TitleRunes = 50
	// PreviewRunes caps the last-message preview in list views.
	PreviewRunes  = 100
	maxTitleRunes = 200
)

// Conversation groups the messages of one chat thread. MessageCount and
// LastMessage are filled by reads, not stored by callers.
type Conversation struct {
	ID           string
	TenantID     string
	Title        string
	MessageCount int
	LastMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Source points an assistant message at the chunk it drew on.
type Source struct {
	DocumentID string  `json:"documentId" bson:"document_id"`
	ChunkID    string  `json:"chunkId" bson:"chunk_id"`
	Score      float64 `json:"score" bson:"score"`
	Snippet    string  `json:"snippet,omitempty" bson:"snippet,omitempty"`
}

// Message is immutable once appended. Seq is assigned by the store and is
// strictly increasing within a conversation, starting at 1.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	Role           Role
	Content        string
	Sources        []Source
	CreatedAt      time.Time
}

// TitleFrom derives a conversation title from the first question.
func TitleFrom(question string) string {
	return truncate(question, TitleRunes)
}

func preview(content string) string {
	return truncate(content, PreviewRunes)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
