package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Vector.Provider)
	assert.Equal(t, "basic", cfg.Vision.Provider)
	assert.Equal(t, 50.0, cfg.Pipeline.MaxFileSizeMB)
	assert.True(t, cfg.Pipeline.SkipExisting)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
driver = "postgres"
dsn = "host=db user=ingest"

[vector]
provider = "qdrant"
port = 7000

[pipeline]
max_pages = 20
max_file_size_mb = 12.5
workers = 3
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PIPELINE_WORKERS", "6")
	t.Setenv("PIPELINE_SKIP_IMAGES", "true")
	t.Setenv("PIPELINE_MAX_FILE_SIZE_MB", "0.5")
	t.Setenv("REDIS_ENABLED", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=ingest", cfg.Database.DSN)
	assert.Equal(t, "qdrant", cfg.Vector.Provider)
	assert.Equal(t, 7000, cfg.Vector.Port)
	assert.Equal(t, 20, cfg.Pipeline.MaxPages)
	assert.Equal(t, 6, cfg.Pipeline.Workers)
	assert.True(t, cfg.Pipeline.SkipImages)
	assert.Equal(t, 0.5, cfg.Pipeline.MaxFileSizeMB)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"DB_DRIVER":                 "oracle",
		"VECTOR_PROVIDER":           "faiss",
		"EMBEDDING_PROVIDER":        "local",
		"VISION_PROVIDER":           "gpt",
		"PIPELINE_MAX_FILE_SIZE_MB": "0",
		"PIPELINE_MAX_PAGES":        "-1",
		"EMBEDDING_MODEL":           " ",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.ErrorContains(t, err, "decode config file failed")
}
