// Package config provides configuration loading for csync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chmdznr/corpussync/internal/logging"
	syncer "github.com/chmdznr/corpussync/internal/sync"
)

const (
	BackendGemini    = "gemini"
	BackendMinio     = "minio"
	BackendLangChain = "langchain"
)

// Config is the full csync configuration.
type Config struct {
	DataDir    string           `koanf:"data_dir"`
	Project    string           `koanf:"project"`
	Log        logging.Config   `koanf:"log"`
	Remote     RemoteConfig     `koanf:"remote"`
	Sync       SyncConfig       `koanf:"sync"`
	Generation GenerationConfig `koanf:"generation"`
	Watch      WatchConfig      `koanf:"watch"`
}

// RemoteConfig selects and configures the remote file registry.
type RemoteConfig struct {
	Backend string       `koanf:"backend"`
	Gemini  GeminiConfig `koanf:"gemini"`
	Minio   MinioConfig  `koanf:"minio"`
	Retry   RetryConfig  `koanf:"retry"`
}

// GeminiConfig configures the Gemini Files and generateContent client.
type GeminiConfig struct {
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	HTTPRetries int           `koanf:"http_retries"`
}

// MinioConfig configures an S3-compatible bucket as the remote registry.
type MinioConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Folder    string `koanf:"folder"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Secure    bool   `koanf:"secure"`
}

// RetryConfig controls backoff on transient remote errors.
type RetryConfig struct {
	MaxRetries      uint64        `koanf:"max_retries"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
}

// SyncConfig controls the reconciler.
type SyncConfig struct {
	UploadConcurrency int `koanf:"upload_concurrency"`
}

// GenerationConfig controls the AI content tools.
// The langchain backend talks to any OpenAI-compatible endpoint at BaseURL.
type GenerationConfig struct {
	Backend     string  `koanf:"backend"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
}

// WatchConfig controls the directory watcher.
type WatchConfig struct {
	Dir      string        `koanf:"dir"`
	Interval time.Duration `koanf:"interval"`
}

// Default returns the built-in defaults.
func Default() *Config {
	dataDir := ".csync"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "csync")
	}
	return &Config{
		DataDir: dataDir,
		Project: "default",
		Log:     logging.NewDefaultConfig(),
		Remote: RemoteConfig{
			Backend: BackendGemini,
			Gemini: GeminiConfig{
				BaseURL:     "https://generativelanguage.googleapis.com",
				Timeout:     2 * time.Minute,
				HTTPRetries: 2,
			},
			Minio: MinioConfig{Secure: true},
			Retry: RetryConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
			},
		},
		Sync: SyncConfig{UploadConcurrency: syncer.DefaultUploadConcurrency},
		Generation: GenerationConfig{
			Backend:     BackendGemini,
			Model:       "gemini-2.0-flash",
			Temperature: 0.7,
		},
		Watch: WatchConfig{Interval: 5 * time.Minute},
	}
}

// Validate checks the configuration for values the rest of csync cannot work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("project is required")
	}
	if strings.ContainsAny(c.Project, `/\`) {
		return fmt.Errorf("project %q must not contain path separators", c.Project)
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	switch c.Remote.Backend {
	case BackendGemini, BackendMinio:
	default:
		return fmt.Errorf("unknown remote backend %q", c.Remote.Backend)
	}
	switch c.Generation.Backend {
	case BackendGemini, BackendLangChain:
	default:
		return fmt.Errorf("unknown generation backend %q", c.Generation.Backend)
	}
	if c.Sync.UploadConcurrency < 1 || c.Sync.UploadConcurrency > syncer.DefaultUploadConcurrency {
		return fmt.Errorf("sync.upload_concurrency must be within [1, %d], got %d",
			syncer.DefaultUploadConcurrency, c.Sync.UploadConcurrency)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be within [0, 2], got %v", c.Generation.Temperature)
	}
	return nil
}

// ValidateRemote checks that the selected remote backend has credentials.
func (c *Config) ValidateRemote() error {
	switch c.Remote.Backend {
	case BackendGemini:
		if c.Remote.Gemini.APIKey == "" {
			return fmt.Errorf("remote.gemini.api_key is required (or set CSYNC_REMOTE_GEMINI_API_KEY)")
		}
	case BackendMinio:
		m := c.Remote.Minio
		if m.Endpoint == "" || m.Bucket == "" || m.AccessKey == "" || m.SecretKey == "" {
			return fmt.Errorf("remote.minio endpoint, bucket, access_key and secret_key are required")
		}
	}
	return nil
}

// DatabasePath is the SQLite file for the configured project.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, c.Project+".db")
}
