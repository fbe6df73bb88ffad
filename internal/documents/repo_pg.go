package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres. Create and the deletes lock the
// tenant's quota row first so counters move in the same transaction.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, tenant_id, storage_key, file_name, size_bytes, content_type, status,
       chunk_count, error_detail, delete_pending, attempts, processing_started_at,
       processed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		doc         Document
		status      string
		errorDetail sql.NullString
		startedAt   sql.NullTime
		processedAt sql.NullTime
	)
	err := row.Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.StorageKey,
		&doc.FileName,
		&doc.SizeBytes,
		&doc.ContentType,
		&status,
		&doc.ChunkCount,
		&errorDetail,
		&doc.DeletePending,
		&doc.Attempts,
		&startedAt,
		&processedAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if errorDetail.Valid {
		doc.ErrorDetail = errorDetail.String
	}
	if startedAt.Valid {
		doc.ProcessingStartedAt = &startedAt.Time
	}
	if processedAt.Valid {
		doc.ProcessedAt = &processedAt.Time
	}
	return doc, nil
}

// Create inserts the document and commits its upload reservation.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.TenantID == "" || !doc.Status.Valid() {
		return ErrInvalidInput
	}
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := quota.UpdateTx(ctx, tx, doc.TenantID, func(rec *quota.Record) error {
			if err := insertDocument(ctx, tx, doc); err != nil {
				return err
			}
			rec.CommitUpload(doc.SizeBytes)
			return nil
		})
		return err
	})
}

// Replace retires a processed or failed document and inserts fresh in the
// same transaction, moving only the storage counter by the size difference.
func (r *PGRepo) Replace(ctx context.Context, oldID string, fresh Document) (Document, error) {
	if fresh.ID == "" || fresh.TenantID == "" || !fresh.Status.Valid() {
		return Document{}, ErrInvalidInput
	}
	query := `
UPDATE documents
SET deleted_at = $3, updated_at = $3
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
  AND status IN ('processed', 'failed') AND delete_pending = FALSE
RETURNING ` + documentColumns

	var out Document
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := quota.UpdateTx(ctx, tx, fresh.TenantID, func(rec *quota.Record) error {
			old, err := scanDocument(tx.QueryRowContext(ctx, query, fresh.TenantID, oldID, time.Now().UTC()))
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("retire document: %w", err)
				}
				if _, getErr := getByID(ctx, tx, fresh.TenantID, oldID); getErr != nil {
					return getErr
				}
				return ErrConflict
			}
			if err := insertDocument(ctx, tx, fresh); err != nil {
				return err
			}
			rec.ReplaceDocument(old.SizeBytes, fresh.SizeBytes)
			out = old
			return nil
		})
		return err
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, doc Document) error {
	const query = `
INSERT INTO documents (
    id,
    tenant_id,
    storage_key,
    file_name,
    size_bytes,
    content_type,
    status,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	if _, err := tx.ExecContext(ctx, query,
		doc.ID,
		doc.TenantID,
		doc.StorageKey,
		doc.FileName,
		doc.SizeBytes,
		doc.ContentType,
		string(doc.Status),
		doc.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID fetches a live document by ID for a tenant.
func (r *PGRepo) GetByID(ctx context.Context, tenantID, id string) (Document, error) {
	return getByID(ctx, r.DB, tenantID, id)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getByID(ctx context.Context, q rowQueryer, tenantID, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`
	doc, err := scanDocument(q.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// List returns documents for a tenant newest first.
func (r *PGRepo) List(ctx context.Context, tenantID string, opts ListOptions) ([]Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE tenant_id = $1 AND deleted_at IS NULL AND ($2 = '' OR status = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.DB.QueryContext(ctx, query, tenantID, string(opts.Status), limit, max(opts.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Transition applies ch when the stored status still equals ch.From.
func (r *PGRepo) Transition(ctx context.Context, tenantID, id string, ch Change) (Document, error) {
	if err := ch.validate(); err != nil {
		return Document{}, err
	}
	now := time.Now().UTC()
	var (
		startedAt, processedAt sql.NullTime
		attempts               int
	)
	switch ch.To {
	case StatusProcessing:
		startedAt = sql.NullTime{Time: now, Valid: true}
		attempts = 1
	case StatusProcessed:
		processedAt = sql.NullTime{Time: now, Valid: true}
	}
	errorDetail := sql.NullString{String: ch.ErrorDetail, Valid: ch.ErrorDetail != ""}

	query := `
UPDATE documents
SET status = $3,
    chunk_count = $4,
    error_detail = $5,
    attempts = attempts + $6,
    processing_started_at = COALESCE($7, processing_started_at),
    processed_at = COALESCE($8, processed_at),
    updated_at = $9
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
  AND status = $10 AND (NOT $11 OR delete_pending = FALSE)
RETURNING ` + documentColumns

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query,
		tenantID, id,
		string(ch.To),
		ch.ChunkCount,
		errorDetail,
		attempts,
		startedAt,
		processedAt,
		now,
		string(ch.From),
		ch.RequireLive,
	))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("transition document: %w", err)
	}

	current, getErr := getByID(ctx, r.DB, tenantID, id)
	if getErr != nil {
		return Document{}, getErr
	}
	if current.Status == ch.From && ch.RequireLive && current.DeletePending {
		return Document{}, ErrTombstoned
	}
	return Document{}, ErrConflict
}

// Tombstone flags a processing document for deletion by the pipeline.
func (r *PGRepo) Tombstone(ctx context.Context, tenantID, id string) (Document, error) {
	query := `
UPDATE documents
SET delete_pending = TRUE, updated_at = $3
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL AND status = 'processing'
RETURNING ` + documentColumns

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, tenantID, id, time.Now().UTC()))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("tombstone document: %w", err)
	}
	if _, getErr := getByID(ctx, r.DB, tenantID, id); getErr != nil {
		return Document{}, getErr
	}
	return Document{}, ErrConflict
}

func (r *PGRepo) Delete(ctx context.Context, tenantID, id string) (Document, error) {
	return r.remove(ctx, tenantID, id, false)
}

func (r *PGRepo) Purge(ctx context.Context, tenantID, id string) (Document, error) {
	return r.remove(ctx, tenantID, id, true)
}

// remove soft-deletes the row and subtracts it from the tenant's counters in
// one transaction. A document already deleted reads as ErrNotFound, so the
// counters are decremented at most once.
func (r *PGRepo) remove(ctx context.Context, tenantID, id string, force bool) (Document, error) {
	query := `
UPDATE documents
SET deleted_at = $3, updated_at = $3
WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
  AND ($4 OR status <> 'processing')
RETURNING ` + documentColumns

	var out Document
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		_, err := quota.UpdateTx(ctx, tx, tenantID, func(rec *quota.Record) error {
			doc, err := scanDocument(tx.QueryRowContext(ctx, query, tenantID, id, time.Now().UTC(), force))
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("delete document: %w", err)
				}
				if _, getErr := getByID(ctx, tx, tenantID, id); getErr != nil {
					return getErr
				}
				return ErrConflict
			}
			rec.RemoveDocument(doc.SizeBytes)
			out = doc
			return nil
		})
		return err
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

// ProcessedIDs lists the documents retrieval may read.
func (r *PGRepo) ProcessedIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id FROM documents
WHERE tenant_id = $1 AND status = 'processed' AND deleted_at IS NULL AND delete_pending = FALSE
ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepo) Totals(ctx context.Context, tenantID string) (quota.Totals, error) {
	var t quota.Totals
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
FROM documents WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&t.Documents, &t.StorageBytes)
	if err != nil {
		return quota.Totals{}, fmt.Errorf("document totals: %w", err)
	}
	return t, nil
}

func (r *PGRepo) Tenants(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM documents WHERE deleted_at IS NULL ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ Repo = (*PGRepo)(nil)
