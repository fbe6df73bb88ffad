package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"docchat-backend/internal/shared/storage/object"
)

func TestSaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	store := New(t.TempDir())

	obj, err := store.Save(ctx, "tenant-a", "notes.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	require.Equal(t, int64(11), obj.SizeBytes)
	require.True(t, strings.HasPrefix(obj.ContentType, "text/plain"))

	rc, err := store.Open(ctx, obj.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	require.NoError(t, store.Delete(ctx, obj.Key))
	require.NoError(t, store.Delete(ctx, obj.Key))

	_, err = store.Open(ctx, obj.Key)
	require.True(t, errors.Is(err, object.ErrNotFound))
}

func TestSaveWithKeyRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.SaveWithKey(context.Background(), "../outside.txt", "text/plain", strings.NewReader("x"))
	require.Error(t, err)

	n, err := store.SaveWithKey(context.Background(), "abc/copy.txt", "text/plain", strings.NewReader("copy"))
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}
