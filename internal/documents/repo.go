package documents

import (
	"context"

	"docchat-backend/internal/quota"
)

// Repo persists documents. Methods that change a tenant's committed usage
// (Create, Delete, Purge, Replace) update the quota counters in the same
// atomic step.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, tenantID, id string) (Document, error)
	List(ctx context.Context, tenantID string, opts ListOptions) ([]Document, error)
	// Transition is a compare-and-set on the current status.
	Transition(ctx context.Context, tenantID, id string, ch Change) (Document, error)
	// Tombstone marks a processing document for deletion. Any other status
	// yields ErrConflict.
	Tombstone(ctx context.Context, tenantID, id string) (Document, error)
	// Delete soft-deletes a document that is not processing.
	Delete(ctx context.Context, tenantID, id string) (Document, error)
	// Purge soft-deletes regardless of status. The pipeline uses it to finish
	// tombstoned work.
	Purge(ctx context.Context, tenantID, id string) (Document, error)
	// Replace soft-deletes a terminal, live document and inserts fresh in its
	// place. No reservation is taken: the tenant's document count stays the
	// same. Returns the replaced document.
	Replace(ctx context.Context, oldID string, fresh Document) (Document, error)
	ProcessedIDs(ctx context.Context, tenantID string) ([]string, error)
	Totals(ctx context.Context, tenantID string) (quota.Totals, error)
	Tenants(ctx context.Context) ([]string, error)
}
