package object

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"docchat-backend/internal/shared/util"
)

func TestNewKeyNamespacesByTenant(t *testing.T) {
	key, err := NewKey("tenant-a", "report.pdf")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, util.HashTenantKey("tenant-a")+"/"))
	require.True(t, strings.HasSuffix(key, "_report.pdf"))

	other, err := NewKey("tenant-a", "report.pdf")
	require.NoError(t, err)
	require.NotEqual(t, key, other)

	_, err = NewKey("tenant-a", "../etc/passwd")
	require.Error(t, err)
}

func TestSniffReplaysHead(t *testing.T) {
	body := "%PDF-1.4\n" + strings.Repeat("x", 1024)
	r, mime, err := Sniff(strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, "application/pdf", mime)
	all, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, body, string(all))
}

func TestValidKey(t *testing.T) {
	require.True(t, ValidKey("abc/def_file.txt"))
	require.False(t, ValidKey("../secret"))
	require.False(t, ValidKey("/abs/path"))
	require.False(t, ValidKey(""))
}
