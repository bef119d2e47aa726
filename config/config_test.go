package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Ingestion.BatchSize)
	assert.Equal(t, time.Duration(0), cfg.Ingestion.BatchDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Ingestion.PollInterval)
	assert.Equal(t, 10, cfg.Ingestion.MaxConcurrent)
	assert.Equal(t, []string{".csv", ".xlsx"}, cfg.Ingestion.AllowedExtensions)
	assert.Equal(t, []string{"customer_email"}, cfg.Ingestion.RequiredFields)
	assert.Equal(t, "new", cfg.Ingestion.DefaultCaseStatus)
	assert.Equal(t, "none", cfg.Ingestion.ResolutionLock)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Timeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Registry.Driver)
	assert.Equal(t, time.Duration(0), cfg.Registry.TTL, "tasks are kept until swept")
	assert.Equal(t, time.Duration(0), cfg.Sweeper.TaskRetention)
	assert.Same(t, cfg, Get())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
server:
  port: 9000
ingestion:
  batch_size: 25
  batch_delay: 200ms
  field_mapping:
    customer_email: [contact]
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("PORT", "9100")
	t.Setenv("WEBHOOK_URL", "http://hooks.local/ingest")
	t.Setenv("CASE_SERVICE_INGESTION_MAX_CONCURRENT", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, 25, cfg.Ingestion.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Ingestion.BatchDelay)
	assert.Equal(t, 3, cfg.Ingestion.MaxConcurrent)
	assert.Equal(t, "http://hooks.local/ingest", cfg.Webhook.URL)
	assert.Equal(t, []string{"contact"}, cfg.Ingestion.FieldMapping["customer_email"])
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STAGING_PATH=/tmp/staged-uploads\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("STAGING_PATH") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/staged-uploads", cfg.Storage.BasePath)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("CASE_SERVICE_STORE_DRIVER", "postgres")
	_, err := Load("")
	assert.ErrorContains(t, err, "database.url")

	t.Setenv("CASE_SERVICE_STORE_DRIVER", "oracle")
	_, err = Load("")
	assert.ErrorContains(t, err, "unknown store.driver")

	t.Setenv("CASE_SERVICE_STORE_DRIVER", "memory")
	t.Setenv("CASE_SERVICE_REGISTRY_DRIVER", "redis")
	_, err = Load("")
	assert.ErrorContains(t, err, "registry.redis_url")
}
