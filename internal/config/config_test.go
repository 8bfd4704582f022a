package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Sync.UploadConcurrency)
	assert.Equal(t, BackendGemini, cfg.Remote.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }},
		{name: "project with slash", mutate: func(c *Config) { c.Project = "a/b" }},
		{name: "unknown remote", mutate: func(c *Config) { c.Remote.Backend = "ftp" }},
		{name: "unknown generator", mutate: func(c *Config) { c.Generation.Backend = "gpt" }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Sync.UploadConcurrency = 0 }},
		{name: "concurrency above cap", mutate: func(c *Config) { c.Sync.UploadConcurrency = 6 }},
		{name: "hot temperature", mutate: func(c *Config) { c.Generation.Temperature = 3 }},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateRemote(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateRemote())
	cfg.Remote.Gemini.APIKey = "k"
	assert.NoError(t, cfg.ValidateRemote())

	cfg.Remote.Backend = BackendMinio
	assert.Error(t, cfg.ValidateRemote())
	cfg.Remote.Minio = MinioConfig{Endpoint: "s3.local:9000", Bucket: "b", AccessKey: "a", SecretKey: "s"}
	assert.NoError(t, cfg.ValidateRemote())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
data_dir: /tmp/csync-data
project: weekly
remote:
  backend: minio
  minio:
    endpoint: s3.local:9000
    bucket: corpus
  retry:
    initial_interval: 2s
sync:
  upload_concurrency: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CSYNC_REMOTE_GEMINI_API_KEY", "from-env")
	t.Setenv("CSYNC_SYNC_UPLOAD_CONCURRENCY", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/csync-data", cfg.DataDir)
	assert.Equal(t, "weekly", cfg.Project)
	assert.Equal(t, BackendMinio, cfg.Remote.Backend)
	assert.Equal(t, "corpus", cfg.Remote.Minio.Bucket)
	assert.True(t, cfg.Remote.Minio.Secure, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Remote.Retry.InitialInterval)
	assert.Equal(t, "from-env", cfg.Remote.Gemini.APIKey)
	assert.Equal(t, 4, cfg.Sync.UploadConcurrency)
	assert.Equal(t, filepath.Join("/tmp/csync-data", "weekly.db"), cfg.DatabasePath())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Project)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CSYNC_REMOTE_GEMINI_API_KEY":    "remote.gemini.api_key",
		"CSYNC_REMOTE_MINIO_ACCESS_KEY":  "remote.minio.access_key",
		"CSYNC_REMOTE_RETRY_MAX_RETRIES": "remote.retry.max_retries",
		"CSYNC_REMOTE_BACKEND":           "remote.backend",
		"CSYNC_LOG_LEVEL":                "log.level",
		"CSYNC_GENERATION_MODEL":         "generation.model",
		"CSYNC_DATA_DIR":                 "data_dir",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
