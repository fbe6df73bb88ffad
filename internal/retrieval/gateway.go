package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/embedding"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/vectorindex"
)

const (
	// MaxQuestionRunes bounds the question text.
	MaxQuestionRunes = 4000
	DefaultTopK      = 5
	snippetRunes     = 200
)

// ValidationError rejects a question before any quota is touched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ProcessedLister names the documents a tenant may currently retrieve from.
type ProcessedLister interface {
	ProcessedIDs(ctx context.Context, tenantID string) ([]string, error)
}

// Gateway answers questions over a tenant's processed documents and records
// the exchange in a conversation.
type Gateway struct {
	Ledger        *quota.Ledger
	Docs          ProcessedLister
	Embedder      embedding.Embedder
	Index         vectorindex.Index
	LLM           llm.Client
	Conversations *conversations.Service
	TopK          int
	Retry         retry.Policy
}

type Request struct {
	TenantID       string
	ConversationID string
	Question       string
}

type Answer struct {
	ConversationID string
	Text           string
	Model          string
	Sources        []conversations.Source
	Usage          quota.Usage
}

func (g *Gateway) topK() int {
	if g.TopK > 0 {
		return g.TopK
	}
	return DefaultTopK
}

// Query runs one question end to end. The daily counter is only consumed
// once an answer exists, and is given back when it cannot be recorded.
func (g *Gateway) Query(ctx context.Context, req Request) (Answer, error) {
	start := time.Now()
	outcome := "failed"
	defer func() {
		metrics.IncQuery(outcome)
		metrics.ObserveQueryDuration(start)
	}()

	question := strings.TrimSpace(req.Question)
	if err := validate(question); err != nil {
		outcome = "invalid"
		return Answer{}, err
	}

	if err := g.Ledger.CheckDailyQuery(ctx, req.TenantID); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			outcome = "denied"
		}
		return Answer{}, err
	}

	if req.ConversationID != "" {
		if _, err := g.Conversations.Get(ctx, req.TenantID, req.ConversationID); err != nil {
			if errors.Is(err, conversations.ErrNotFound) {
				outcome = "not_found"
			}
			return Answer{}, err
		}
	}

	matches, err := g.retrieve(ctx, req.TenantID, question)
	if err != nil {
		return Answer{}, err
	}

	passages := make([]llm.Passage, 0, len(matches))
	sources := make([]conversations.Source, 0, len(matches))
	for _, m := range matches {
		passages = append(passages, llm.Passage{DocumentID: m.DocumentID, ChunkID: m.ChunkID, Content: m.Content, Score: m.Score})
		sources = append(sources, conversations.Source{
			DocumentID: m.DocumentID,
			ChunkID:    m.ChunkID,
			Score:      m.Score,
			Snippet:    snippet(m.Content),
		})
	}

	reply, err := g.LLM.Answer(ctx, llm.Question{Text: question, Passages: passages})
	if err != nil {
		return Answer{}, fmt.Errorf("answer: %w", err)
	}

	if err := g.Ledger.ConsumeQuery(ctx, req.TenantID); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			outcome = "denied"
		}
		return Answer{}, err
	}

	conv, _, err := g.Conversations.Exchange(ctx, req.TenantID, req.ConversationID, question, reply.Text, sources)
	if err != nil {
		if relErr := g.Ledger.Release(context.WithoutCancel(ctx), req.TenantID, quota.KindQueries, 1); relErr != nil {
			telemetry.Error("query.release_failed", map[string]any{
				"tenant_id": req.TenantID,
				"error":     relErr.Error(),
			})
		}
		return Answer{}, fmt.Errorf("record exchange: %w", err)
	}

	usage, err := g.Ledger.Usage(ctx, req.TenantID)
	if err != nil {
		telemetry.Warn("query.usage_unavailable", map[string]any{"tenant_id": req.TenantID, "error": err.Error()})
	}

	outcome = "answered"
	telemetry.Info("query.answered", map[string]any{
		"tenant_id":       req.TenantID,
		"conversation_id": conv.ID,
		"sources":         len(sources),
		"model":           reply.Model,
		"prompt_hash":     reply.PromptHash,
		"duration_ms":     float64(time.Since(start).Microseconds()) / 1000.0,
	})
	return Answer{
		ConversationID: conv.ID,
		Text:           reply.Text,
		Model:          reply.Model,
		Sources:        sources,
		Usage:          usage,
	}, nil
}

func (g *Gateway) retrieve(ctx context.Context, tenantID, question string) ([]vectorindex.Match, error) {
	var vector []float32
	err := g.Retry.Do(ctx, func(ctx context.Context) error {
		vectors, err := g.Embedder.Embed(ctx, []string{question})
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return retry.Permanent("embed", fmt.Errorf("expected 1 vector, got %d", len(vectors)))
		}
		vector = vectors[0]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	processed, err := g.Docs.ProcessedIDs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("processed documents: %w", err)
	}
	if len(processed) == 0 {
		return nil, nil
	}

	var matches []vectorindex.Match
	err = g.Retry.Do(ctx, func(ctx context.Context) error {
		var qErr error
		matches, qErr = g.Index.Query(ctx, vectorindex.Query{
			TenantID:    tenantID,
			Vector:      vector,
			K:           g.topK(),
			DocumentIDs: processed,
		})
		return qErr
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return filter(matches, tenantID, processed), nil
}

// filter drops anything outside the tenant's processed set, whatever the
// index backend returned.
func filter(matches []vectorindex.Match, tenantID string, processed []string) []vectorindex.Match {
	allowed := make(map[string]struct{}, len(processed))
	for _, id := range processed {
		allowed[id] = struct{}{}
	}
	out := matches[:0]
	for _, m := range matches {
		if m.TenantID != tenantID {
			continue
		}
		if _, ok := allowed[m.DocumentID]; !ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

func validate(question string) error {
	if question == "" {
		return &ValidationError{Reason: "question is required"}
	}
	if !utf8.ValidString(question) {
		return &ValidationError{Reason: "question must be valid UTF-8"}
	}
	if utf8.RuneCountInString(question) > MaxQuestionRunes {
		return &ValidationError{Reason: fmt.Sprintf("question exceeds %d characters", MaxQuestionRunes)}
	}
	return nil
}

func snippet(content string) string {
	r := []rune(strings.TrimSpace(content))
	if len(r) <= snippetRunes {
		return string(r)
	}
	return string(r[:snippetRunes])
}
