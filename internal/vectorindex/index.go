package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID         string
	TenantID   string
	DocumentID string
	Ordinal    int
	Content    string
	Vector     []float32
}

// Query asks for the K chunks closest to Vector within one tenant. A non-nil
// DocumentIDs restricts the search to those documents; an empty non-nil slice
// matches nothing.
type Query struct {
	TenantID    string
	Vector      []float32
	K           int
	DocumentIDs []string
}

// Match is a scored search hit. Score is cosine similarity.
type Match struct {
	ChunkID    string
	TenantID   string
	DocumentID string
	Ordinal    int
	Content    string
	Score      float64
}

// Index stores chunk vectors and answers tenant-scoped similarity queries.
type Index interface {
	// Upsert writes chunks keyed by Chunk.ID, replacing existing entries.
	Upsert(ctx context.Context, chunks []Chunk) error
	// DeleteByDocument removes every entry for the document. Deleting a
	// document with no entries is not an error.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
	Query(ctx context.Context, q Query) ([]Match, error)
}

// ChunkID is the stable id of the ordinal-th chunk of a document, so a rerun
// overwrites rather than duplicates.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", documentID, ordinal)
}

func (q Query) limit() int {
	if q.K <= 0 {
		return 5
	}
	return q.K
}

func (q Query) allowed() func(string) bool {
	if q.DocumentIDs == nil {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(q.DocumentIDs))
	for _, id := range q.DocumentIDs {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

func validateChunks(chunks []Chunk) error {
	for _, c := range chunks {
		if c.ID == "" || c.TenantID == "" || c.DocumentID == "" {
			return fmt.Errorf("chunk %q: id, tenant and document are required", c.ID)
		}
		if len(c.Vector) == 0 {
			return fmt.Errorf("chunk %q: empty vector", c.ID)
		}
	}
	return nil
}

func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
