package openai

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"docchat-backend/internal/llm"
)

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

const systemPrompt = "You answer questions using only the numbered passages provided. " +
	"If the passages do not contain the answer, say that you could not find it. " +
	"Cite passages by their number in square brackets."

// BuildPrompt creates the chat messages for one question.
func BuildPrompt(q llm.Question) []Message {
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(q)},
	}
}

func buildUserPrompt(q llm.Question) string {
	var b strings.Builder
	b.WriteString("Passages:\n")
	if len(q.Passages) == 0 {
		b.WriteString("(none)\n")
	}
	for i, p := range q.Passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(p.Content))
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(strings.TrimSpace(q.Text))
	return b.String()
}

func promptStringFromMessages(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func hashPromptString(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
