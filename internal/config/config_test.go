package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, 4, cfg.MaxConns)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)

	require.NotNil(t, cfg.Learning)
	assert.InDelta(t, 0.05, cfg.Learning.ApprovalBoost, 1e-9)
	assert.InDelta(t, 0.10, cfg.Learning.RejectionPenalty, 1e-9)
	assert.Equal(t, 3, cfg.Learning.MinSamples)
	assert.Equal(t, 7*24*time.Hour, cfg.Learning.IdleCycle)

	require.NotNil(t, cfg.Quality)
	assert.InDelta(t, 60.0, cfg.Quality.SuitabilityThreshold, 1e-9)

	require.NotNil(t, cfg.Recommend)
	assert.Equal(t, 30*time.Minute, cfg.Recommend.CacheTTL)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker_port: 9100
log_level: debug
storage:
  backend: postgres
  dsn: postgres://curio@localhost/curio
  max_conns: 16
redis:
  enabled: true
  addr: cache.internal:6379
learning:
  approval_boost: 0.08
  min_samples: 5
  idle_cycle_hours: 48
  target_vocabulary: [wing, beak]
recommend:
  gap_boost: 1.5
  cache_ttl_minutes: 5
batch:
  concurrency: 8
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.WorkerPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, "postgres://curio@localhost/curio", cfg.PostgresDSN)
	assert.Equal(t, 16, cfg.MaxConns)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "cache.internal:6379", cfg.RedisAddr)

	assert.InDelta(t, 0.08, cfg.Learning.ApprovalBoost, 1e-9)
	assert.Equal(t, 5, cfg.Learning.MinSamples)
	assert.Equal(t, 48*time.Hour, cfg.Learning.IdleCycle)
	assert.Equal(t, []string{"wing", "beak"}, cfg.Learning.TargetVocabulary)
	// Fields the file omits keep their defaults.
	assert.InDelta(t, 0.10, cfg.Learning.RejectionPenalty, 1e-9)

	assert.InDelta(t, 1.5, cfg.Recommend.GapBoost, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Recommend.CacheTTL)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
}

func TestLoadZeroValuesIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker_port: 0
learning:
  min_samples: 0
  idle_cycle_hours: 0
recommend:
  cache_ttl_minutes: 0
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
	assert.Equal(t, 3, cfg.Learning.MinSamples)
	assert.Equal(t, 7*24*time.Hour, cfg.Learning.IdleCycle)
	assert.Equal(t, 30*time.Minute, cfg.Recommend.CacheTTL)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_port: [not a port"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_port: 9100\nlog_level: debug\n"), 0600))

	t.Setenv("CURIO_WORKER_PORT", "9200")
	t.Setenv("CURIO_LOG_LEVEL", "warn")
	t.Setenv("CURIO_STORAGE_BACKEND", BackendMemory)
	t.Setenv("CURIO_REDIS_ADDR", "override:6379")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.WorkerPort)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.True(t, cfg.RedisEnabled, "setting a redis address enables the cache")
	assert.Equal(t, "override:6379", cfg.RedisAddr)
	assert.Equal(t, "sk-test", cfg.VisionAPIKey)
}

func TestEnvInvalidPortIgnored(t *testing.T) {
	t.Setenv("CURIO_WORKER_PORT", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
}

func TestDataDirEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CURIO_DATA_DIR", dir)

	assert.Equal(t, dir, DataDir())
	assert.Equal(t, filepath.Join(dir, "settings.yaml"), SettingsPath())

	require.NoError(t, EnsureDataDir())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
