package conversations

import (
	"context"
	"strings"

	"docchat-backend/internal/shared/telemetry"
)

const (
	DefaultListLimit     = 20
	MaxListLimit         = 100
	DefaultMessagesLimit = 200
	MaxMessagesLimit     = 1000
)

// Service validates conversation requests before they reach the Repo.
type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Create starts an empty conversation. A blank title is allowed and is
// replaced by the first question when the gateway appends to it.
func (s *Service) Create(ctx context.Context, tenantID, title string) (Conversation, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Conversation{}, ErrInvalidInput
	}
	conv, err := s.Repo.Create(ctx, Conversation{
		TenantID: tenantID,
		Title:    truncate(strings.TrimSpace(title), maxTitleRunes),
	})
	if err != nil {
		return Conversation{}, err
	}
	telemetry.Info("conversation.created", map[string]any{
		"tenant_id":       tenantID,
		"conversation_id": conv.ID,
	})
	return conv, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return Conversation{}, ErrNotFound
	}
	return s.Repo.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	limit, offset = bounds(limit, offset, DefaultListLimit, MaxListLimit)
	return s.Repo.List(ctx, tenantID, limit, offset)
}

func (s *Service) Messages(ctx context.Context, tenantID, id string, limit, offset int) ([]Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	limit, offset = bounds(limit, offset, DefaultMessagesLimit, MaxMessagesLimit)
	return s.Repo.Messages(ctx, tenantID, id, limit, offset)
}

// Exchange records one question and its answer, creating the conversation
// when conversationID is empty. The returned conversation reflects the
// append. A conversation created here is removed again if the append fails.
func (s *Service) Exchange(ctx context.Context, tenantID, conversationID, question, answer string, sources []Source) (Conversation, []Message, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Conversation{}, nil, ErrInvalidInput
	}
	created := false
	if conversationID == "" {
		conv, err := s.Create(ctx, tenantID, TitleFrom(question))
		if err != nil {
			return Conversation{}, nil, err
		}
		conversationID, created = conv.ID, true
	}
	stored, err := s.Repo.Append(ctx, tenantID, conversationID,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer, Sources: sources},
	)
	if err != nil {
		if created {
			s.discard(ctx, tenantID, conversationID)
		}
		return Conversation{}, nil, err
	}
	conv, err := s.Repo.Get(ctx, tenantID, conversationID)
	if err != nil {
		return Conversation{}, nil, err
	}
	return conv, stored, nil
}

func (s *Service) discard(ctx context.Context, tenantID, id string) {
	if err := s.Repo.DeleteEmpty(context.WithoutCancel(ctx), tenantID, id); err != nil {
		telemetry.Warn("conversation.discard_failed", map[string]any{
			"tenant_id":       tenantID,
			"conversation_id": id,
			"error":           err.Error(),
		})
	}
}

func bounds(limit, offset, def, max int) (int, int) {
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
