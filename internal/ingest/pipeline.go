package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat-backend/internal/documents"
	"docchat-backend/internal/embedding"
	"docchat-backend/internal/extract"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/vectorindex"
)

const (
	DefaultBatchSize         = 16
	DefaultParallelism       = 2
	DefaultProcessingTimeout = 10 * time.Minute

	// cleanupTimeout bounds rollback and status writes that run after the
	// processing context has expired.
	cleanupTimeout = 30 * time.Second
)

// Cleaner removes index entries and stored objects of a deleted document.
type Cleaner interface {
	Cleanup(ctx context.Context, doc documents.Document)
}

// Pipeline moves one document from received to processed or failed:
// extract, chunk, embed, index, then a final compare-and-set.
type Pipeline struct {
	Docs     documents.Repo
	Store    object.Store
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Cleaner  Cleaner
	Chunker  Chunker
	Retry    retry.Policy

	BatchSize   int
	Parallelism int
	Timeout     time.Duration
}

// Process runs the pipeline for a queued document. A nil return means the
// message can be acknowledged: the document reached a terminal state, was
// deleted, or was already handled. A non-nil return asks for redelivery and
// leaves the document in a state a rerun can resume from.
func (p *Pipeline) Process(ctx context.Context, tenantID, documentID string) error {
	start := time.Now()
	parent := ctx
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doc, err := p.Docs.GetByID(ctx, tenantID, documentID)
	if errors.Is(err, documents.ErrNotFound) {
		p.log(ctx, "ingest.skipped", tenantID, documentID, map[string]any{"reason": "not_found"})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.DeletePending {
		return p.finishDelete(parent, doc)
	}
	if doc.Status.Terminal() {
		p.log(ctx, "ingest.skipped", tenantID, documentID, map[string]any{"reason": "terminal", "status": string(doc.Status)})
		return nil
	}

	doc, err = p.transition(ctx, doc, documents.Change{From: doc.Status, To: documents.StatusProcessing})
	switch {
	case errors.Is(err, documents.ErrNotFound), errors.Is(err, documents.ErrConflict):
		p.log(ctx, "ingest.skipped", tenantID, documentID, map[string]any{"reason": "status_changed"})
		return nil
	case err != nil:
		return fmt.Errorf("start processing: %w", err)
	}

	chunks, runErr := p.run(ctx, doc)
	if runErr != nil {
		if parent.Err() != nil {
			// shutdown, not a document failure; the redelivery restarts it
			return runErr
		}
		if errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() != nil {
			runErr = &PermanentError{Stage: "timeout", Err: fmt.Errorf("processing exceeded %s", timeout)}
		}
		return p.fail(parent, doc, runErr, start)
	}

	final, err := p.transition(ctx, doc, documents.Change{
		From:        documents.StatusProcessing,
		To:          documents.StatusProcessed,
		ChunkCount:  chunks,
		RequireLive: true,
	})
	switch {
	case err == nil:
		metrics.IncIngest("processed")
		metrics.ObserveIngestDuration(start)
		p.log(ctx, "ingest.completed", tenantID, documentID, map[string]any{
			"chunk_count": final.ChunkCount,
			"attempts":    final.Attempts,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
		})
		return nil
	case errors.Is(err, documents.ErrTombstoned):
		return p.finishDelete(parent, doc)
	case errors.Is(err, documents.ErrNotFound):
		p.rollback(parent, doc)
		return nil
	case errors.Is(err, documents.ErrConflict):
		// another delivery finished the same document with identical chunk ids
		p.log(ctx, "ingest.skipped", tenantID, documentID, map[string]any{"reason": "status_changed"})
		return nil
	default:
		return fmt.Errorf("commit processed: %w", err)
	}
}

// Abandon gives a document a terminal outcome once its message will not be
// redelivered again: tombstoned documents are purged, anything else still in
// flight becomes failed with the last error as its detail. Index entries are
// removed first; if that fails the document is failed anyway and the entries
// are dropped again when it is deleted.
func (p *Pipeline) Abandon(ctx context.Context, tenantID, documentID string, cause error) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	doc, err := p.Docs.GetByID(ctx, tenantID, documentID)
	if errors.Is(err, documents.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.DeletePending {
		return p.finishDelete(parent, doc)
	}
	if doc.Status.Terminal() {
		return nil
	}

	if err := p.policy("rollback").Do(ctx, func(ctx context.Context) error {
		return p.Index.DeleteByDocument(ctx, doc.TenantID, doc.ID)
	}); err != nil {
		telemetry.Error("ingest.rollback_failed", map[string]any{
			"tenant_id":   doc.TenantID,
			"document_id": doc.ID,
			"request_id":  queue.RequestIDFromContext(parent),
			"stage":       "abandon",
			"error":       err.Error(),
		})
	}

	failed, err := p.transition(ctx, doc, documents.Change{
		From:        doc.Status,
		To:          documents.StatusFailed,
		ErrorDetail: errorDetail(fmt.Errorf("retries exhausted: %w", cause)),
	})
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return nil
	case errors.Is(err, documents.ErrConflict):
		// a late attempt finished it; reload to honour a tombstone set meanwhile
		current, getErr := p.Docs.GetByID(ctx, tenantID, documentID)
		if getErr == nil && current.DeletePending {
			return p.finishDelete(parent, current)
		}
		return nil
	case err != nil:
		return fmt.Errorf("record abandoned: %w", err)
	}

	metrics.IncIngest("failed")
	telemetry.Warn("ingest.abandoned", map[string]any{
		"tenant_id":    doc.TenantID,
		"document_id":  doc.ID,
		"request_id":   queue.RequestIDFromContext(parent),
		"error_detail": failed.ErrorDetail,
		"attempts":     failed.Attempts,
	})
	if failed.DeletePending {
		return p.finishDelete(parent, failed)
	}
	return nil
}

// run executes the stages and returns the number of indexed chunks.
func (p *Pipeline) run(ctx context.Context, doc documents.Document) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, &PermanentError{Stage: "panic", Err: fmt.Errorf("%v", r)}
		}
	}()

	text, err := p.extract(ctx, doc)
	if err != nil {
		return 0, err
	}

	pieces := p.Chunker.Split(text)
	if len(pieces) == 0 {
		return 0, &ValidationError{Reason: "document contains no extractable text"}
	}

	vectors, err := p.embed(ctx, pieces)
	if err != nil {
		return 0, err
	}

	chunks := make([]vectorindex.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = vectorindex.Chunk{
			ID:         vectorindex.ChunkID(doc.ID, i),
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			Ordinal:    i,
			Content:    piece,
			Vector:     vectors[i],
		}
	}

	// replace, never append: a rerun must not leave chunks of an older attempt
	err = p.policy("index").Do(ctx, func(ctx context.Context) error {
		if err := p.Index.DeleteByDocument(ctx, doc.TenantID, doc.ID); err != nil {
			return err
		}
		return p.Index.Upsert(ctx, chunks)
	})
	if err != nil {
		return 0, stageError("index", err)
	}
	return len(chunks), nil
}

func (p *Pipeline) extract(ctx context.Context, doc documents.Document) (string, error) {
	var text string
	err := p.policy("extract").Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = extract.FromStore(ctx, p.Store, doc.StorageKey, doc.ContentType, doc.FileName)
		if errors.Is(err, extract.ErrUnsupported) || errors.Is(err, extract.ErrCorrupt) || errors.Is(err, object.ErrNotFound) {
			return retry.Permanent("", err)
		}
		return err
	})
	if err != nil {
		return "", stageError("extract", err)
	}
	return text, nil
}

// embed runs batches concurrently and returns one vector per piece, in order.
func (p *Pipeline) embed(ctx context.Context, pieces []string) ([][]float32, error) {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	parallel := p.Parallelism
	if parallel <= 0 {
		parallel = DefaultParallelism
	}

	vectors := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for start := 0; start < len(pieces); start += size {
		end := min(start+size, len(pieces))
		g.Go(func() error {
			batch := pieces[start:end]
			var out [][]float32
			err := p.policy("embed").Do(gctx, func(ctx context.Context) error {
				var err error
				out, err = p.Embedder.Embed(ctx, batch)
				return err
			})
			if err != nil {
				return err
			}
			if len(out) != len(batch) {
				return retry.Permanent("", fmt.Errorf("embedder returned %d vectors for %d chunks", len(out), len(batch)))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stageError("embed", err)
	}
	return vectors, nil
}

// fail rolls back index writes and records the failure. If the rollback
// cannot complete the document stays processing and the error asks for
// redelivery.
func (p *Pipeline) fail(parent context.Context, doc documents.Document, cause error, start time.Time) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
	defer cancel()

	if err := p.policy("rollback").Do(ctx, func(ctx context.Context) error {
		return p.Index.DeleteByDocument(ctx, doc.TenantID, doc.ID)
	}); err != nil {
		telemetry.Error("ingest.rollback_failed", map[string]any{
			"tenant_id":   doc.TenantID,
			"document_id": doc.ID,
			"request_id":  queue.RequestIDFromContext(parent),
			"cause":       cause.Error(),
			"error":       err.Error(),
		})
		return fmt.Errorf("rollback index after %v: %w", cause, err)
	}

	failed, err := p.transition(ctx, doc, documents.Change{
		From:        documents.StatusProcessing,
		To:          documents.StatusFailed,
		ErrorDetail: errorDetail(cause),
	})
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return nil
	case errors.Is(err, documents.ErrConflict):
		p.log(ctx, "ingest.skipped", doc.TenantID, doc.ID, map[string]any{"reason": "status_changed"})
		return nil
	case err != nil:
		return fmt.Errorf("record failure: %w", err)
	}

	metrics.IncIngest("failed")
	metrics.ObserveIngestDuration(start)
	telemetry.Warn("ingest.failed", map[string]any{
		"tenant_id":    doc.TenantID,
		"document_id":  doc.ID,
		"request_id":   queue.RequestIDFromContext(parent),
		"error_detail": failed.ErrorDetail,
		"attempts":     failed.Attempts,
	})
	if failed.DeletePending {
		return p.finishDelete(parent, failed)
	}
	return nil
}

func (p *Pipeline) rollback(parent context.Context, doc documents.Document) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
	defer cancel()
	if err := p.policy("rollback").Do(ctx, func(ctx context.Context) error {
		return p.Index.DeleteByDocument(ctx, doc.TenantID, doc.ID)
	}); err != nil {
		telemetry.Error("ingest.rollback_failed", map[string]any{
			"tenant_id":   doc.TenantID,
			"document_id": doc.ID,
			"error":       err.Error(),
		})
	}
}

// finishDelete completes a delete that arrived while the document was being
// processed: the record goes (with its quota), then index entries and bytes.
func (p *Pipeline) finishDelete(parent context.Context, doc documents.Document) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
	defer cancel()

	purged, err := p.Docs.Purge(ctx, doc.TenantID, doc.ID)
	if errors.Is(err, documents.ErrNotFound) {
		p.rollback(parent, doc)
		return nil
	}
	if err != nil {
		return fmt.Errorf("purge tombstoned document: %w", err)
	}
	if p.Cleaner != nil {
		p.Cleaner.Cleanup(ctx, purged)
	} else {
		p.rollback(parent, purged)
	}
	metrics.IncIngest("deleted")
	p.log(ctx, "document.purged", doc.TenantID, doc.ID, map[string]any{"size_bytes": purged.SizeBytes})
	return nil
}

func (p *Pipeline) transition(ctx context.Context, doc documents.Document, ch documents.Change) (documents.Document, error) {
	next, err := p.Docs.Transition(ctx, doc.TenantID, doc.ID, ch)
	if err != nil {
		return documents.Document{}, err
	}
	p.log(ctx, "document.status", doc.TenantID, doc.ID, map[string]any{
		"status_transition": ch.Label(),
		"attempts":          next.Attempts,
		"chunk_count":       next.ChunkCount,
	})
	return next, nil
}

func (p *Pipeline) policy(stage string) retry.Policy {
	policy := p.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	policy.OnRetry = func(attempt int, err error) {
		metrics.IncIngestRetry(stage)
		telemetry.Warn("ingest.retry", map[string]any{
			"stage":   stage,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	return policy
}

func (p *Pipeline) log(ctx context.Context, msg, tenantID, documentID string, extra map[string]any) {
	fields := map[string]any{
		"tenant_id":   tenantID,
		"document_id": documentID,
	}
	if reqID := queue.RequestIDFromContext(ctx); reqID != "" {
		fields["request_id"] = reqID
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info(msg, fields)
}
