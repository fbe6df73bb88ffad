package object

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"docchat-backend/internal/shared/util"
)

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored upload.
type Object struct {
	Key         string
	SizeBytes   int64
	ContentType string
}

// Store saves and retrieves raw uploaded bytes by reference.
type Store interface {
	Save(ctx context.Context, tenantID, fileName string, r io.Reader) (Object, error)
	SaveWithKey(ctx context.Context, storageKey, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	// Delete removes the object. Missing keys are not an error.
	Delete(ctx context.Context, storageKey string) error
}

// NewKey builds a tenant-namespaced key: <hash(tenant)>/<random>_<name>.
func NewKey(tenantID, fileName string) (string, error) {
	sanitized, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	return path.Join(util.HashTenantKey(tenantID), randomID()+"_"+sanitized), nil
}

// Sniff reads up to 512 bytes to detect the MIME type and returns a reader
// that replays them.
func Sniff(r io.Reader) (io.Reader, string, error) {
	var head [512]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, "", fmt.Errorf("read sniff: %w", err)
	}
	mimeType := http.DetectContentType(head[:n])
	return io.MultiReader(bytes.NewReader(head[:n]), r), mimeType, nil
}

// ValidKey rejects absolute keys and traversal.
func ValidKey(storageKey string) bool {
	clean := path.Clean(strings.ReplaceAll(storageKey, "\\", "/"))
	return clean != "." && clean != "" && !strings.HasPrefix(clean, "..") && !strings.HasPrefix(clean, "/")
}

// CountingReader counts bytes read through it.
type CountingReader struct {
	R io.Reader
	N int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.N += int64(n)
	return n, err
}

func randomID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
