package conversations

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps conversations in process; used in dev and tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	convs map[string]*memoryConv
	now   func() time.Time
}

type memoryConv struct {
	mu   sync.Mutex
	conv Conversation
	msgs []Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		convs: make(map[string]*memoryConv),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Create(ctx context.Context, conv Conversation) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := r.now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	conv.MessageCount, conv.LastMessage = 0, ""

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.convs[conv.ID]; exists {
		return Conversation{}, ErrInvalidInput
	}
	r.convs[conv.ID] = &memoryConv{conv: conv}
	return conv, nil
}

func (r *MemoryRepo) lookup(tenantID, id string) (*memoryConv, error) {
	r.mu.RLock()
	c, ok := r.convs[id]
	r.mu.RUnlock()
	if !ok || c.conv.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	c, err := r.lookup(tenantID, id)
	if err != nil {
		return Conversation{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv, nil
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, limit, offset int) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	owned := make([]*memoryConv, 0)
	for _, c := range r.convs {
		if c.conv.TenantID == tenantID {
			owned = append(owned, c)
		}
	}
	r.mu.RUnlock()

	out := make([]Conversation, 0, len(owned))
	for _, c := range owned {
		c.mu.Lock()
		out = append(out, c.conv)
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

func (r *MemoryRepo) Append(ctx context.Context, tenantID, conversationID string, msgs ...Message) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := r.lookup(tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := r.now()
	stored := make([]Message, len(msgs))
	for i, m := range msgs {
		m.ID = uuid.NewString()
		m.ConversationID = conversationID
		m.Seq = int64(len(c.msgs) + 1)
		m.CreatedAt = now
		c.msgs = append(c.msgs, m)
		stored[i] = m
	}
	if len(stored) > 0 {
		c.conv.MessageCount = len(c.msgs)
		c.conv.LastMessage = preview(stored[len(stored)-1].Content)
		c.conv.UpdatedAt = now
	}
	return stored, nil
}

func (r *MemoryRepo) Messages(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := r.lookup(tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	out := append([]Message(nil), c.msgs...)
	c.mu.Unlock()
	return page(out, limit, offset), nil
}

func (r *MemoryRepo) DeleteEmpty(ctx context.Context, tenantID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok || c.conv.TenantID != tenantID {
		return ErrNotFound
	}
	c.mu.Lock()
	empty := len(c.msgs) == 0
	c.mu.Unlock()
	if empty {
		delete(r.convs, id)
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Repo = (*MemoryRepo)(nil)
