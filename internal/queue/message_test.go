package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePreservesIdentifiers(t *testing.T) {
	payload, err := EncodeMessage(NewMessage("tenant-123", "doc-456", "request-789"))
	require.NoError(t, err)

	got, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "tenant-123", got.TenantID)
	assert.Equal(t, "doc-456", got.DocumentID)
	assert.Equal(t, "request-789", got.RequestID)
	assert.Equal(t, CurrentVersion, got.Version)

	_, err = time.Parse(time.RFC3339Nano, got.EnqueuedAt)
	assert.NoError(t, err, "enqueuedAt must be RFC3339")
}

func TestDecodeMessageVersions(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		version int
		wantErr bool
	}{
		{name: "missing version reads as v1", payload: `{"tenantId":"t","documentId":"d"}`, version: 1},
		{name: "current", payload: `{"tenantId":"t","documentId":"d","version":1}`, version: 1},
		{name: "future", payload: `{"tenantId":"t","documentId":"d","version":2}`, wantErr: true},
		{name: "negative", payload: `{"tenantId":"t","documentId":"d","version":-1}`, wantErr: true},
		{name: "malformed", payload: `{"tenantId":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.version, msg.Version)
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}
