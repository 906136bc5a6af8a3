// Package config provides configuration loading and structs for the cdpindex tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Index   IndexConfig   `yaml:"index"`
	Search  SearchConfig  `yaml:"search"`
	Watch   WatchConfig   `yaml:"watch"`
	Migrate MigrateConfig `yaml:"migrate"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimit is requests per second across all clients; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// IndexConfig selects the backend and where its index lives.
type IndexConfig struct {
	Backend        string `yaml:"backend"`
	Directory      string `yaml:"directory"`
	Compression    string `yaml:"compression"`
	BlockCacheSize int    `yaml:"block_cache_size"`
	VerifyChecksum *bool  `yaml:"verify_checksum"`
	SQLiteDriver   string `yaml:"sqlite_driver"`
}

// VerifyChecksumOrDefault returns whether archives are checksummed at open; defaults to true when unset.
func (c *IndexConfig) VerifyChecksumOrDefault() bool {
	if c.VerifyChecksum != nil {
		return *c.VerifyChecksum
	}
	return true
}

// SearchConfig holds query service settings.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	MaxResults   int `yaml:"max_results"`
	CacheSize    int `yaml:"cache_size"`
}

// WatchConfig holds index reload settings.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// MigrateConfig holds legacy migration settings.
type MigrateConfig struct {
	Workers int `yaml:"workers"`
}

// Default returns a config with every default applied, for runs without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Index.Directory = expandPath(cfg.Index.Directory, ".")
	return &cfg
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Index.Directory = expandPath(cfg.Index.Directory, filepath.Dir(path))
	return &cfg, nil
}

// Validate rejects settings no component can honor.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "memory", "compressed", "sqlite", "bleve":
	default:
		return fmt.Errorf("invalid index.backend: %q (supported: memory, compressed, sqlite, bleve)", c.Index.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit %d exceeds search.max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	return nil
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
		if abs, err := filepath.Abs(filepath.Join(configDir, path)); err == nil {
			return abs
		}
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
