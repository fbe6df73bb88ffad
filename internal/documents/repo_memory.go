package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"docchat-backend/internal/quota"
)

// MemoryRepo is an in-memory Repo. Records of one tenant share a mutex;
// changes that touch quota take the ledger's tenant lock first.
type MemoryRepo struct {
	ledger  *quota.Ledger
	tenants sync.Map // tenantID -> *tenantDocs
	now     func() time.Time
}

type tenantDocs struct {
	mu   sync.Mutex
	docs map[string]*memoryDoc
}

type memoryDoc struct {
	Document
	deleted bool
}

// NewMemoryRepo constructs a MemoryRepo. A nil ledger skips counter updates.
func NewMemoryRepo(ledger *quota.Ledger) *MemoryRepo {
	return &MemoryRepo{ledger: ledger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *MemoryRepo) bucket(tenantID string) *tenantDocs {
	if v, ok := r.tenants.Load(tenantID); ok {
		return v.(*tenantDocs)
	}
	v, _ := r.tenants.LoadOrStore(tenantID, &tenantDocs{docs: make(map[string]*memoryDoc)})
	return v.(*tenantDocs)
}

// withQuota runs fn under the tenant's quota lock when a ledger is wired.
func (r *MemoryRepo) withQuota(ctx context.Context, tenantID string, fn func(rec *quota.Record) error) error {
	if r.ledger == nil {
		return fn(&quota.Record{})
	}
	_, err := r.ledger.Update(ctx, tenantID, fn)
	return err
}

func (r *MemoryRepo) Create(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" || doc.TenantID == "" || !doc.Status.Valid() {
		return ErrInvalidInput
	}
	return r.withQuota(ctx, doc.TenantID, func(rec *quota.Record) error {
		b := r.bucket(doc.TenantID)
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, exists := b.docs[doc.ID]; exists {
			return ErrConflict
		}
		b.docs[doc.ID] = &memoryDoc{Document: doc}
		rec.CommitUpload(doc.SizeBytes)
		return nil
	})
}

func (r *MemoryRepo) GetByID(ctx context.Context, tenantID, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	b := r.bucket(tenantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	if !ok || d.deleted {
		return Document{}, ErrNotFound
	}
	return d.Document, nil
}

// List returns documents newest first, honoring limit/offset.
func (r *MemoryRepo) List(ctx context.Context, tenantID string, opts ListOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := r.bucket(tenantID)
	b.mu.Lock()
	docs := make([]Document, 0, len(b.docs))
	for _, d := range b.docs {
		if d.deleted || (opts.Status != "" && d.Status != opts.Status) {
			continue
		}
		docs = append(docs, d.Document)
	}
	b.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	offset := max(opts.Offset, 0)
	if offset >= len(docs) {
		return []Document{}, nil
	}
	end := len(docs)
	if opts.Limit > 0 && offset+opts.Limit < end {
		end = offset + opts.Limit
	}
	return docs[offset:end], nil
}

func (r *MemoryRepo) Transition(ctx context.Context, tenantID, id string, ch Change) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if err := ch.validate(); err != nil {
		return Document{}, err
	}
	b := r.bucket(tenantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	if !ok || d.deleted {
		return Document{}, ErrNotFound
	}
	if d.Status != ch.From {
		return Document{}, ErrConflict
	}
	if ch.RequireLive && d.DeletePending {
		return Document{}, ErrTombstoned
	}
	ch.apply(&d.Document, r.now())
	return d.Document, nil
}

func (r *MemoryRepo) Tombstone(ctx context.Context, tenantID, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	b := r.bucket(tenantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.docs[id]
	if !ok || d.deleted {
		return Document{}, ErrNotFound
	}
	if d.Status != StatusProcessing {
		return Document{}, ErrConflict
	}
	d.DeletePending = true
	d.UpdatedAt = r.now()
	return d.Document, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, tenantID, id string) (Document, error) {
	return r.remove(ctx, tenantID, id, false)
}

func (r *MemoryRepo) Purge(ctx context.Context, tenantID, id string) (Document, error) {
	return r.remove(ctx, tenantID, id, true)
}

func (r *MemoryRepo) remove(ctx context.Context, tenantID, id string, force bool) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	var out Document
	err := r.withQuota(ctx, tenantID, func(rec *quota.Record) error {
		b := r.bucket(tenantID)
		b.mu.Lock()
		defer b.mu.Unlock()
		d, ok := b.docs[id]
		if !ok || d.deleted {
			return ErrNotFound
		}
		if !force && d.Status == StatusProcessing {
			return ErrConflict
		}
		d.deleted = true
		d.UpdatedAt = r.now()
		rec.RemoveDocument(d.SizeBytes)
		out = d.Document
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func (r *MemoryRepo) Replace(ctx context.Context, oldID string, fresh Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if fresh.ID == "" || fresh.TenantID == "" || !fresh.Status.Valid() {
		return Document{}, ErrInvalidInput
	}
	var out Document
	err := r.withQuota(ctx, fresh.TenantID, func(rec *quota.Record) error {
		b := r.bucket(fresh.TenantID)
		b.mu.Lock()
		defer b.mu.Unlock()
		d, ok := b.docs[oldID]
		if !ok || d.deleted {
			return ErrNotFound
		}
		if !d.Status.Terminal() || d.DeletePending {
			return ErrConflict
		}
		if _, exists := b.docs[fresh.ID]; exists {
			return ErrConflict
		}
		d.deleted = true
		d.UpdatedAt = r.now()
		b.docs[fresh.ID] = &memoryDoc{Document: fresh}
		rec.ReplaceDocument(d.SizeBytes, fresh.SizeBytes)
		out = d.Document
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return out, nil
}

func (r *MemoryRepo) ProcessedIDs(ctx context.Context, tenantID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := r.bucket(tenantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.docs))
	for id, d := range b.docs {
		if !d.deleted && d.Queryable() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepo) Totals(ctx context.Context, tenantID string) (quota.Totals, error) {
	if err := ctx.Err(); err != nil {
		return quota.Totals{}, err
	}
	b := r.bucket(tenantID)
	b.mu.Lock()
	defer b.mu.Unlock()
	var t quota.Totals
	for _, d := range b.docs {
		if d.deleted {
			continue
		}
		t.Documents++
		t.StorageBytes += d.SizeBytes
	}
	return t, nil
}

func (r *MemoryRepo) Tenants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	r.tenants.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out, nil
}

var (
	_ Repo               = (*MemoryRepo)(nil)
	_ quota.TotalsSource = (*MemoryRepo)(nil)
)
