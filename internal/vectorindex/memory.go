package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// Memory is a brute-force cosine index for dev and tests.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]map[string]Chunk
}

func NewMemory() *Memory {
	return &Memory{tenants: make(map[string]map[string]Chunk)}
}

func (m *Memory) Upsert(ctx context.Context, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		byID, ok := m.tenants[c.TenantID]
		if !ok {
			byID = make(map[string]Chunk)
			m.tenants[c.TenantID] = byID
		}
		c.Vector = append([]float32(nil), c.Vector...)
		byID[c.ID] = c
	}
	return nil
}

func (m *Memory) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.tenants[tenantID] {
		if c.DocumentID == documentID {
			delete(m.tenants[tenantID], id)
		}
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Match, error) {
	allowed := q.allowed()
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0)
	for _, c := range m.tenants[q.TenantID] {
		if !allowed(c.DocumentID) {
			continue
		}
		score, err := cosine(q.Vector, c.Vector)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			ChunkID:    c.ID,
			TenantID:   c.TenantID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Content:    c.Content,
			Score:      score,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if len(matches) > q.limit() {
		matches = matches[:q.limit()]
	}
	return matches, nil
}

// Count returns the number of entries held for a document.
func (m *Memory) Count(tenantID, documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.tenants[tenantID] {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}
