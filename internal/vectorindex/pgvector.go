package vectorindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"docchat-backend/internal/shared/storage/db"
)

// PGVector stores chunks in the document_chunks table.
type PGVector struct {
	DB *sql.DB
}

func NewPGVector(database *sql.DB) *PGVector {
	return &PGVector{DB: database}
}

// ErrNoChunkTable means migrations ran on a server without the vector
// extension, so document_chunks was never created.
var ErrNoChunkTable = errors.New("document_chunks table missing: install the pgvector extension and rerun migrations")

// Ready checks that the chunk table exists.
func (p *PGVector) Ready(ctx context.Context) error {
	var name sql.NullString
	if err := p.DB.QueryRowContext(ctx, `SELECT to_regclass('document_chunks')::text`).Scan(&name); err != nil {
		return fmt.Errorf("check document_chunks: %w", err)
	}
	if !name.Valid {
		return ErrNoChunkTable
	}
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, chunks []Chunk) error {
	if err := validateChunks(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return db.WithTx(ctx, p.DB, func(tx *sql.Tx) error {
		for _, c := range chunks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO document_chunks (id, tenant_id, document_id, ordinal, content, embedding)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE
				SET ordinal = EXCLUDED.ordinal,
				    content = EXCLUDED.content,
				    embedding = EXCLUDED.embedding
				WHERE document_chunks.tenant_id = EXCLUDED.tenant_id`,
				c.ID, c.TenantID, c.DocumentID, c.Ordinal, c.Content, pgvector.NewVector(c.Vector))
			if err != nil {
				return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (p *PGVector) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := p.DB.ExecContext(ctx, `
		DELETE FROM document_chunks
		WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID)
	return err
}

func (p *PGVector) Query(ctx context.Context, q Query) ([]Match, error) {
	if q.DocumentIDs != nil && len(q.DocumentIDs) == 0 {
		return []Match{}, nil
	}
	vec := pgvector.NewVector(q.Vector)

	var rows *sql.Rows
	var err error
	if q.DocumentIDs == nil {
		rows, err = p.DB.QueryContext(ctx, `
			SELECT id, document_id, ordinal, content, 1 - (embedding <=> $1) AS score
			FROM document_chunks
			WHERE tenant_id = $2
			ORDER BY embedding <=> $1
			LIMIT $3`,
			vec, q.TenantID, q.limit())
	} else {
		rows, err = p.DB.QueryContext(ctx, `
			SELECT id, document_id, ordinal, content, 1 - (embedding <=> $1) AS score
			FROM document_chunks
			WHERE tenant_id = $2 AND document_id = ANY($3)
			ORDER BY embedding <=> $1
			LIMIT $4`,
			vec, q.TenantID, q.DocumentIDs, q.limit())
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]Match, 0, q.limit())
	for rows.Next() {
		m := Match{TenantID: q.TenantID}
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Ordinal, &m.Content, &m.Score); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
