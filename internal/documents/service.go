package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-backend/internal/extract"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/shared/util"
)

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes = 10 << 20

// IndexCleaner removes a document's entries from the vector index.
type IndexCleaner interface {
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
}

// Service runs the upload and deletion side of the document lifecycle.
type Service struct {
	Repo     Repo
	Store    object.Store
	Ledger   *quota.Ledger
	Queue    queue.Client
	Index    IndexCleaner
	MaxBytes int64
	Retry    retry.Policy
}

// DeleteResult reports how a delete request was satisfied.
type DeleteResult struct {
	Document Document
	// Pending means the document was tombstoned and the pipeline will
	// finish the deletion.
	Pending bool
}

func (s *Service) maxBytes() int64 {
	if s.MaxBytes > 0 {
		return s.MaxBytes
	}
	return DefaultMaxBytes
}

// Upload validates the file, reserves quota, stores the bytes, records the
// document and enqueues it for ingestion.
func (s *Service) Upload(ctx context.Context, tenantID, fileName string, r io.Reader) (Document, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Document{}, ErrInvalidInput
	}
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return Document{}, invalid("file name: %v", err)
	}
	if _, ok := ContentTypeFor(name); !ok {
		return Document{}, invalid("file type %q not allowed", strings.ToLower(filepath.Ext(name)))
	}

	limit := s.maxBytes()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Document{}, fmt.Errorf("read upload: %w", err)
	}
	contentType, err := Validate(name, data, limit)
	if err != nil {
		return Document{}, err
	}
	return s.ingest(ctx, tenantID, name, contentType, data)
}

func (s *Service) ingest(ctx context.Context, tenantID, name, contentType string, data []byte) (Document, error) {
	size := int64(len(data))
	if err := s.Ledger.ReserveUpload(ctx, tenantID, size); err != nil {
		return Document{}, err
	}

	obj, err := s.Store.Save(ctx, tenantID, name, bytes.NewReader(data))
	if err != nil {
		s.release(ctx, tenantID, size)
		return Document{}, fmt.Errorf("store object: %w", err)
	}

	now := time.Now().UTC()
	doc := Document{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		StorageKey:  obj.Key,
		FileName:    name,
		SizeBytes:   size,
		ContentType: contentType,
		Status:      StatusReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		s.release(ctx, tenantID, size)
		if delErr := s.Store.Delete(context.WithoutCancel(ctx), obj.Key); delErr != nil {
			telemetry.Warn("document.object_cleanup_failed", map[string]any{
				"tenant_id":   tenantID,
				"storage_key": obj.Key,
				"error":       delErr.Error(),
			})
		}
		return Document{}, fmt.Errorf("create document: %w", err)
	}

	metrics.IncDocumentUploaded()
	telemetry.Info("document.uploaded", map[string]any{
		"tenant_id":    tenantID,
		"document_id":  doc.ID,
		"size_bytes":   size,
		"content_type": contentType,
	})

	return s.enqueue(ctx, doc)
}

// enqueue hands a received document to the workers. If the queue refuses it
// the document is failed so it does not sit in received forever.
func (s *Service) enqueue(ctx context.Context, doc Document) (Document, error) {
	msg := queue.NewMessage(doc.TenantID, doc.ID, queue.RequestIDFromContext(ctx))
	if err := s.Queue.Send(ctx, msg); err != nil {
		ch := Change{From: StatusReceived, To: StatusFailed, ErrorDetail: TruncateDetail("enqueue failed: " + err.Error())}
		failed, tErr := s.Repo.Transition(context.WithoutCancel(ctx), doc.TenantID, doc.ID, ch)
		telemetry.Error("document.enqueue_failed", map[string]any{
			"tenant_id":         doc.TenantID,
			"document_id":       doc.ID,
			"status_transition": ch.Label(),
			"error":             err.Error(),
		})
		if tErr != nil {
			return Document{}, fmt.Errorf("enqueue document: %w", err)
		}
		return failed, nil
	}
	return doc, nil
}

func (s *Service) release(ctx context.Context, tenantID string, size int64) {
	if err := s.Ledger.ReleaseUpload(context.WithoutCancel(ctx), tenantID, size); err != nil {
		telemetry.Error("quota.release_failed", map[string]any{
			"tenant_id":  tenantID,
			"size_bytes": size,
			"error":      err.Error(),
		})
	}
}

// Get returns one of the tenant's documents.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Document, error) {
	if tenantID == "" || id == "" {
		return Document{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, tenantID, id)
}

// List returns the tenant's documents newest first.
func (s *Service) List(ctx context.Context, tenantID string, opts ListOptions) ([]Document, error) {
	if tenantID == "" {
		return nil, ErrInvalidInput
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, ErrInvalidInput
	}
	return s.Repo.List(ctx, tenantID, opts)
}

// Delete removes the document now, or tombstones it when a worker holds it.
func (s *Service) Delete(ctx context.Context, tenantID, id string) (DeleteResult, error) {
	if tenantID == "" || id == "" {
		return DeleteResult{}, ErrInvalidInput
	}
	// The status can move between the two calls; a few rounds settle it.
	for range 3 {
		doc, err := s.Repo.Delete(ctx, tenantID, id)
		if err == nil {
			s.Cleanup(ctx, doc)
			telemetry.Info("document.deleted", map[string]any{
				"tenant_id":   tenantID,
				"document_id": id,
				"status":      string(doc.Status),
			})
			return DeleteResult{Document: doc}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return DeleteResult{}, err
		}

		doc, err = s.Repo.Tombstone(ctx, tenantID, id)
		if err == nil {
			telemetry.Info("document.tombstoned", map[string]any{
				"tenant_id":   tenantID,
				"document_id": id,
			})
			return DeleteResult{Document: doc, Pending: true}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return DeleteResult{}, err
		}
	}
	return DeleteResult{}, ErrConflict
}

// Cleanup removes index entries and stored bytes of a deleted document.
// Failures are logged: retrieval only reads processed, live documents, so
// leftovers are unreachable.
func (s *Service) Cleanup(ctx context.Context, doc Document) {
	ctx = context.WithoutCancel(ctx)
	if s.Index != nil {
		err := s.Retry.Do(ctx, func(ctx context.Context) error {
			return s.Index.DeleteByDocument(ctx, doc.TenantID, doc.ID)
		})
		if err != nil {
			telemetry.Error("document.index_cleanup_failed", map[string]any{
				"tenant_id":   doc.TenantID,
				"document_id": doc.ID,
				"error":       err.Error(),
			})
		}
	}
	if s.Store != nil && doc.StorageKey != "" {
		for _, key := range []string{doc.StorageKey, extract.DerivedKey(doc.StorageKey)} {
			if err := s.Store.Delete(ctx, key); err != nil {
				telemetry.Warn("document.object_cleanup_failed", map[string]any{
					"tenant_id":   doc.TenantID,
					"document_id": doc.ID,
					"storage_key": key,
					"error":       err.Error(),
				})
			}
		}
	}
}

// Reingest replaces a finished document with a new one over the same stored
// bytes. The swap is a single quota step, so a tenant at its limit can still
// reingest.
func (s *Service) Reingest(ctx context.Context, tenantID, id string) (Document, error) {
	old, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	if !old.Status.Terminal() {
		return Document{}, ErrConflict
	}
	if old.DeletePending {
		return Document{}, ErrTombstoned
	}

	now := time.Now().UTC()
	fresh := Document{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		StorageKey:  old.StorageKey,
		FileName:    old.FileName,
		SizeBytes:   old.SizeBytes,
		ContentType: old.ContentType,
		Status:      StatusReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	replaced, err := s.Repo.Replace(ctx, old.ID, fresh)
	if err != nil {
		return Document{}, err
	}
	// the object now belongs to fresh; only the old index entries go
	if s.Index != nil {
		if err := s.Retry.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
			return s.Index.DeleteByDocument(ctx, tenantID, replaced.ID)
		}); err != nil {
			telemetry.Error("document.index_cleanup_failed", map[string]any{
				"tenant_id":   tenantID,
				"document_id": replaced.ID,
				"error":       err.Error(),
			})
		}
	}
	telemetry.Info("document.reingested", map[string]any{
		"tenant_id":       tenantID,
		"document_id":     fresh.ID,
		"old_document_id": replaced.ID,
	})
	return s.enqueue(ctx, fresh)
}
