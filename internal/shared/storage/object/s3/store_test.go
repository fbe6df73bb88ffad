package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"docchat-backend/internal/shared/storage/object"
)

type fakeS3 struct {
	objects map[string][]byte
	puts    []*s3.PutObjectInput
	deleted []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestSaveOpenDeleteRoundTrip(t *testing.T) {
	api := newFakeS3()
	store := newStore(api, "docs", "/uploads/", "")

	obj, err := store.Save(context.Background(), "tenant-1", "notes.txt", strings.NewReader("quarterly notes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if obj.SizeBytes != int64(len("quarterly notes")) {
		t.Fatalf("unexpected size %d", obj.SizeBytes)
	}
	put := api.puts[0]
	if !strings.HasPrefix(aws.ToString(put.Key), "uploads/") {
		t.Fatalf("expected prefixed key, got %q", aws.ToString(put.Key))
	}
	if put.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected SSE-S3, got %q", put.ServerSideEncryption)
	}

	rc, err := store.Open(context.Background(), obj.Key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "quarterly notes" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := store.Delete(context.Background(), obj.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(context.Background(), obj.Key); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSaveUsesKMSWhenConfigured(t *testing.T) {
	api := newFakeS3()
	store := newStore(api, "docs", "", " alias/docchat ")

	if _, err := store.SaveWithKey(context.Background(), "tenant-1/abc/report.pdf", "application/pdf", strings.NewReader("%PDF")); err != nil {
		t.Fatalf("save: %v", err)
	}
	put := api.puts[0]
	if put.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms {
		t.Fatalf("expected SSE-KMS, got %q", put.ServerSideEncryption)
	}
	if aws.ToString(put.SSEKMSKeyId) != "alias/docchat" {
		t.Fatalf("unexpected kms key %q", aws.ToString(put.SSEKMSKeyId))
	}
}

func TestSaveWithKeyRejectsTraversal(t *testing.T) {
	store := newStore(newFakeS3(), "docs", "", "")
	if _, err := store.SaveWithKey(context.Background(), "../other-tenant/x", "text/plain", strings.NewReader("x")); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestApplyPrefix(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "tenant/file.pdf", "tenant/file.pdf"},
		{"root/", "tenant/file.pdf", "root/tenant/file.pdf"},
		{"/root/", "/tenant/file.pdf", "root/tenant/file.pdf"},
		{"root/sub", "", "root/sub"},
	}
	for _, tt := range tests {
		if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
			t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}
