package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Client composes an answer to a question from retrieved passages.
type Client interface {
	Answer(ctx context.Context, q Question) (Reply, error)
}

// Passage is one retrieved chunk offered to the model as context.
type Passage struct {
	DocumentID string
	ChunkID    string
	Content    string
	Score      float64
}

type Question struct {
	Text     string
	Passages []Passage
}

// Reply is the composed answer. PromptHash identifies the exact prompt sent
// so answers can be traced without logging document text.
type Reply struct {
	Text       string
	Model      string
	PromptHash string
}

// NoContextAnswer is returned when retrieval found nothing to answer from.
const NoContextAnswer = "I couldn't find anything in your documents that answers this question."

const (
	extractivePassages = 3
	extractiveRunes    = 600
)

// Extractive answers by quoting the best passages. It makes no network calls
// and is the default when no model provider is configured.
type Extractive struct{}

func (Extractive) Answer(ctx context.Context, q Question) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	reply := Reply{Model: "extractive"}
	if len(q.Passages) == 0 {
		reply.Text = NoContextAnswer
		return reply, nil
	}

	passages := append([]Passage(nil), q.Passages...)
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	if len(passages) > extractivePassages {
		passages = passages[:extractivePassages]
	}

	var b strings.Builder
	b.WriteString("From your documents:")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n\n[%d] %s", i+1, clip(strings.TrimSpace(p.Content), extractiveRunes))
	}
	reply.Text = b.String()
	return reply, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

var _ Client = Extractive{}
