package workerproc

import (
	"context"
	"errors"
	"testing"

	"docchat-backend/internal/queue"
)

type recordingProcessor struct {
	tenant, doc, requestID string
	err                    error
}

func (p *recordingProcessor) Process(ctx context.Context, tenantID, documentID string) error {
	p.tenant, p.doc = tenantID, documentID
	p.requestID = queue.RequestIDFromContext(ctx)
	return p.err
}

func TestParseMessageErrors(t *testing.T) {
	if _, _, err := ParseMessage("  "); !errors.As(err, new(ErrEmptyBody)) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, _, err := ParseMessage("{bad"); !errors.As(err, new(ErrDecode)) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	_, meta, err := ParseMessage(`{"tenantId":"t1"}`)
	if !errors.As(err, new(ErrMissingDocumentID)) {
		t.Fatalf("expected ErrMissingDocumentID, got %v", err)
	}
	if meta.BodySHA == "" || meta.BodyLen == 0 {
		t.Fatalf("expected meta to be filled: %+v", meta)
	}
	if !Unrecoverable(err) {
		t.Fatalf("missing id should be unrecoverable")
	}
}

func TestHandleMessageDispatches(t *testing.T) {
	body, _ := queue.EncodeMessage(queue.NewMessage("t1", "d1", "req-1"))
	p := &recordingProcessor{}

	if err := HandleMessage(context.Background(), p, string(body)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if p.tenant != "t1" || p.doc != "d1" || p.requestID != "req-1" {
		t.Fatalf("unexpected dispatch: %+v", p)
	}
}

func TestHandleMessageWrapsProcessError(t *testing.T) {
	body, _ := queue.EncodeMessage(queue.NewMessage("t1", "d1", ""))
	boom := errors.New("boom")
	err := HandleMessage(context.Background(), &recordingProcessor{err: boom}, string(body))

	var procErr ErrProcess
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if procErr.DocumentID != "d1" || !errors.Is(err, boom) {
		t.Fatalf("unexpected error: %+v", procErr)
	}
	if Unrecoverable(err) {
		t.Fatalf("process errors must be retried")
	}
}

func TestHandleMessageUsesParsedContext(t *testing.T) {
	p := &recordingProcessor{}
	ctx := WithParsedMessage(context.Background(), queue.Message{TenantID: "t2", DocumentID: "d2"})
	if err := HandleMessage(ctx, p, "ignored"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if p.doc != "d2" {
		t.Fatalf("expected parsed message to be used, got %q", p.doc)
	}
}

func TestFutureMessageVersionIsUnrecoverable(t *testing.T) {
	_, _, err := ParseMessage(`{"tenantId":"t1","documentId":"d1","version":99}`)
	if !errors.As(err, new(ErrDecode)) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if !Unrecoverable(err) {
		t.Fatalf("unknown version should be dropped, not retried")
	}
}
