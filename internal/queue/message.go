package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CurrentVersion is the payload schema version producers write.
const CurrentVersion = 1

// Message is one ingestion work item: process document DocumentID of TenantID.
type Message struct {
	TenantID   string `json:"tenantId"`
	DocumentID string `json:"documentId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a work item with the current time and version.
func NewMessage(tenantID, documentID, requestID string) Message {
	return Message{
		TenantID:   tenantID,
		DocumentID: documentID,
		RequestID:  requestID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Version:    CurrentVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message. Payloads without a
// version are read as version 1; newer versions are rejected so an old worker
// never half-processes a message it does not understand.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version == 0 {
		msg.Version = 1
	}
	if msg.Version < 0 || msg.Version > CurrentVersion {
		return Message{}, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	return msg, nil
}

type requestIDKey struct{}

// WithRequestID carries the originating HTTP request id to the producer and,
// after decoding, to the consumer.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
