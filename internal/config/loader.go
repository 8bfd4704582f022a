package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "CSYNC_"
	maxConfigFileSize = 1024 * 1024
)

// sections lists the nested keys so env names can be split on the right underscore.
var sections = []string{
	"log_", "remote_gemini_", "remote_minio_", "remote_retry_", "remote_",
	"sync_", "generation_", "watch_",
}

// DefaultPath is ~/.config/csync/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "csync", "config.yaml")
}

// Load reads configuration from the YAML file at path (skipped if it does not exist),
// then overrides with CSYNC_ environment variables.
//
// Environment variables map onto keys by section, e.g.
//
//	CSYNC_REMOTE_GEMINI_API_KEY -> remote.gemini.api_key
//	CSYNC_SYNC_UPLOAD_CONCURRENCY -> sync.upload_concurrency
//	CSYNC_DATA_DIR -> data_dir
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		info, err := os.Stat(path)
		switch {
		case err == nil:
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps CSYNC_REMOTE_GEMINI_API_KEY to remote.gemini.api_key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section) {
			return strings.ReplaceAll(strings.TrimSuffix(section, "_"), "_", ".") + "." + strings.TrimPrefix(key, section)
		}
	}
	return key
}
