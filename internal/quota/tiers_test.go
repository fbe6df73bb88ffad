package quota

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	require.Equal(t, int64(50), tiers["free"].MaxDocuments)
	require.Equal(t, int64(500<<20), tiers["free"].MaxStorageBytes)
	require.Equal(t, int64(1000), tiers["free"].MaxQueriesPerDay)
	require.Equal(t, Unlimited, tiers["enterprise"].Limit(KindQueries))
	require.Equal(t, tiers["free"], tiers.Lookup("no-such-tier"))
}

func TestLoadTiersOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiers:
  free:
    max_documents: 3
    max_storage_bytes: 104857600
    max_queries_per_day: 10
  team:
    max_documents: 200
    max_storage_bytes: -1
    max_queries_per_day: 5000
`), 0o600))

	tiers, err := LoadTiers(path)
	require.NoError(t, err)
	require.Equal(t, int64(3), tiers["free"].MaxDocuments)
	require.Equal(t, int64(100<<20), tiers["free"].MaxStorageBytes)
	require.Equal(t, Unlimited, tiers["team"].MaxStorageBytes)
	require.Contains(t, tiers, "pro")
}

func TestLoadTiersEmptyPath(t *testing.T) {
	tiers, err := LoadTiers("")
	require.NoError(t, err)
	require.Equal(t, DefaultTiers(), tiers)
}

func TestLoadTiersRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers: [1, 2"), 0o600))
	_, err := LoadTiers(path)
	require.Error(t, err)
}
