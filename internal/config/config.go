// Package config provides configuration loading and structs for the Mitsukeru engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Scan      ScanConfig      `yaml:"scan"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the snapshot location. The vector artifact and the
// path-list artifact are both written under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// EmbeddingConfig holds image embedder settings.
type EmbeddingConfig struct {
	ModelPath string `yaml:"model_path"`
	// Dimensions is the embedding vector length (512 for CLIP ViT-B/32).
	Dimensions int `yaml:"dimensions"`
	// MaxImageDim is the max width/height in pixels before downscaling.
	MaxImageDim int `yaml:"max_image_dim"`
	CacheSize   int `yaml:"cache_size"`
}

// ScanConfig holds corpus traversal and filtering settings.
type ScanConfig struct {
	// Roots are the default scan roots for builds and watch mode.
	// Empty means the caller must supply a root (or scan all volumes).
	Roots []string `yaml:"roots"`
	// Extensions are accepted image file extensions, case-insensitive,
	// with or without the leading dot.
	Extensions []string `yaml:"extensions"`
	// ExcludedFolders are tokens matched case-insensitively as substrings
	// of a directory's own name; matching directories are pruned entirely.
	ExcludedFolders []string `yaml:"excluded_folders"`
	MinFileSizeKB   int      `yaml:"min_file_size_kb"`
	MaxFileSizeMB   int      `yaml:"max_file_size_mb"`
}

// WatchConfig holds rebuild-on-change settings. When enabled, filesystem
// changes under the scan roots schedule a full rebuild after DebounceMs
// of quiet.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, applies defaults, and
// expands relative paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	for i := range cfg.Scan.Roots {
		cfg.Scan.Roots[i] = expandPath(cfg.Scan.Roots[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
