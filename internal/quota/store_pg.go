package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docchat-backend/internal/shared/storage/db"
)

// PGStore keeps records in the quotas table. Every mutation holds the
// tenant's row lock for the length of one transaction.
type PGStore struct {
	DB *sql.DB
}

func NewPGStore(database *sql.DB) *PGStore {
	return &PGStore{DB: database}
}

func (s *PGStore) Update(ctx context.Context, tenantID string, fn func(rec *Record) error) (Record, error) {
	var out Record
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		rec, err := UpdateTx(ctx, tx, tenantID, fn)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (s *PGStore) Tenants(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT tenant_id FROM quotas ORDER BY tenant_id`)
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

// UpdateTx locks the tenant's row inside tx, applies fn and writes the row
// back. Record stores use it to change documents and counters in one
// transaction.
func UpdateTx(ctx context.Context, tx *sql.Tx, tenantID string, fn func(rec *Record) error) (Record, error) {
	rec, err := lockAndEnsure(ctx, tx, tenantID)
	if err != nil {
		return Record{}, err
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
UPDATE quotas
SET tier = $1, document_count = $2, total_storage_bytes = $3, reserved_documents = $4,
    reserved_bytes = $5, queries_today = $6, last_reset_date = $7, updated_at = $8
WHERE tenant_id = $9`,
		rec.Tier, rec.DocumentCount, rec.TotalStorageBytes, rec.ReservedDocuments,
		rec.ReservedBytes, rec.QueriesToday, rec.LastResetDate, rec.UpdatedAt, tenantID); err != nil {
		return Record{}, fmt.Errorf("save quota: %w", err)
	}
	return rec, nil
}

const selectForUpdate = `
SELECT tier, document_count, total_storage_bytes, reserved_documents, reserved_bytes,
       queries_today, last_reset_date, updated_at
FROM quotas WHERE tenant_id = $1 FOR UPDATE`

func lockAndEnsure(ctx context.Context, tx *sql.Tx, tenantID string) (Record, error) {
	rec, err := scanLocked(ctx, tx, tenantID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("lock quota: %w", err)
	}
	today := utcDate(time.Now())
	if _, err := tx.ExecContext(ctx, `
INSERT INTO quotas (tenant_id, tier, last_reset_date) VALUES ($1, $2, $3)
ON CONFLICT (tenant_id) DO NOTHING`, tenantID, DefaultTier, today); err != nil {
		return Record{}, fmt.Errorf("create quota: %w", err)
	}
	rec, err = scanLocked(ctx, tx, tenantID)
	if err != nil {
		return Record{}, fmt.Errorf("lock quota: %w", err)
	}
	return rec, nil
}

func scanLocked(ctx context.Context, tx *sql.Tx, tenantID string) (Record, error) {
	rec := Record{TenantID: tenantID}
	err := tx.QueryRowContext(ctx, selectForUpdate, tenantID).Scan(
		&rec.Tier,
		&rec.DocumentCount,
		&rec.TotalStorageBytes,
		&rec.ReservedDocuments,
		&rec.ReservedBytes,
		&rec.QueriesToday,
		&rec.LastResetDate,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.LastResetDate = utcDate(rec.LastResetDate)
	return rec, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Totals aggregates live documents straight from the documents table.
func (s *PGStore) Totals(ctx context.Context, tenantID string) (Totals, error) {
	return queryTotals(ctx, s.DB, tenantID)
}

// UpdateWithTotals is Update with the tenant's document aggregate read on
// the same transaction, after the quota row is locked.
func (s *PGStore) UpdateWithTotals(ctx context.Context, tenantID string, fn func(rec *Record, t Totals) error) (Record, error) {
	var out Record
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		rec, err := UpdateTx(ctx, tx, tenantID, func(rec *Record) error {
			t, err := queryTotals(ctx, tx, tenantID)
			if err != nil {
				return err
			}
			return fn(rec, t)
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func queryTotals(ctx context.Context, q rowQueryer, tenantID string) (Totals, error) {
	var t Totals
	err := q.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
FROM documents WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID).Scan(&t.Documents, &t.StorageBytes)
	if err != nil {
		return Totals{}, fmt.Errorf("document totals: %w", err)
	}
	return t, nil
}

var (
	_ Store        = (*PGStore)(nil)
	_ TotalsSource = (*PGStore)(nil)
)
