package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "")
	t.Setenv("QUEUE", "")
	t.Setenv("CHUNK_SIZE", "")

	cfg := Load()
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "memory", cfg.QueueType)
	require.Equal(t, "memory", cfg.VectorIndex)
	require.Equal(t, 500, cfg.ChunkSize)
	require.Equal(t, 50, cfg.ChunkOverlap)
	require.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	require.Equal(t, 10*time.Minute, cfg.ProcessingTimeout)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.CORSAllowOrigin)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "prod")
	t.Setenv("QUEUE", "Redis")
	t.Setenv("VECTOR_INDEX", "bogus")
	t.Setenv("RETRY_BASE_DELAY", "1s")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	require.Equal(t, "production", cfg.Env)
	require.Equal(t, "redis", cfg.QueueType)
	require.Equal(t, "memory", cfg.VectorIndex)
	require.Equal(t, time.Second, cfg.RetryBaseDelay)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigin)
}

func TestLoadReadsDotEnvWithoutOverridingEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WORKER_CONCURRENCY=9\nRETRIEVAL_TOP_K=7\n"), 0o644))
	t.Setenv("RETRIEVAL_TOP_K", "3")
	t.Cleanup(func() { os.Unsetenv("WORKER_CONCURRENCY") })

	cfg := Load()
	require.Equal(t, 9, cfg.WorkerConcurrency)
	require.Equal(t, 3, cfg.RetrievalTopK)
}
