// Manages server configuration stored in server_config.yaml.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maruel/lookupd/internal/jsonldb"
	"gopkg.in/yaml.v3"
)

const configFileName = "server_config.yaml"

// ServerConfig stores all server-wide configuration.
// Loaded from server_config.yaml, created with defaults if missing.
type ServerConfig struct {
	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// LookupRateLimit throttles POST /api/lookup per client IP.
	LookupRateLimit RateLimit `yaml:"lookup_rate_limit"`

	// Search bounds result counts of /api/search.
	Search SearchConfig `yaml:"search"`

	// LogReplay controls what /api/logs returns.
	LogReplay LogReplayConfig `yaml:"log_replay"`
}

// RateLimit is a sliding window ceiling.
type RateLimit struct {
	// Requests is the number of requests admitted per Window. 0 disables
	// limiting.
	Requests int `yaml:"requests"`

	Window time.Duration `yaml:"window"`
}

// Validate checks that the limit is usable.
func (r *RateLimit) Validate() error {
	if r.Requests < 0 {
		return errors.New("requests must be non-negative")
	}
	if r.Requests > 0 && r.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

// SearchConfig bounds search results.
type SearchConfig struct {
	// DefaultLimit applies when the request has no limit.
	DefaultLimit int `yaml:"default_limit"`
	// MaxLimit caps any requested limit.
	MaxLimit int `yaml:"max_limit"`
}

// Validate checks that both limits are positive and consistent.
func (s *SearchConfig) Validate() error {
	if s.DefaultLimit <= 0 {
		return errors.New("default_limit must be positive")
	}
	if s.MaxLimit < s.DefaultLimit {
		return errors.New("max_limit must be at least default_limit")
	}
	return nil
}

// LogReplayConfig controls the request log replay.
type LogReplayConfig struct {
	// Paths lists the request paths returned by /api/logs.
	Paths []string `yaml:"paths"`
	// MaxLimit caps the number of entries returned, and kept in memory.
	MaxLimit int `yaml:"max_limit"`
}

// Validate checks the replay bounds.
func (l *LogReplayConfig) Validate() error {
	if l.MaxLimit <= 0 {
		return errors.New("max_limit must be positive")
	}
	return nil
}

// DefaultServerConfig returns the configuration written on first start.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxRequestBodyBytes: 50 * 1024 * 1024, // 50 MiB
		LookupRateLimit:     RateLimit{Requests: 5, Window: time.Minute},
		Search:              SearchConfig{DefaultLimit: 50, MaxLimit: 1000},
		LogReplay: LogReplayConfig{
			Paths:    []string{"/api/lookup", "/api/search", "/api/check"},
			MaxLimit: 1000,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("max_request_body_bytes must be positive")
	}
	if err := c.LookupRateLimit.Validate(); err != nil {
		return fmt.Errorf("lookup_rate_limit: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.LogReplay.Validate(); err != nil {
		return fmt.Errorf("log_replay: %w", err)
	}
	return nil
}

// LoadServerConfig loads configuration from dataDir/server_config.yaml.
// Creates the file with defaults if it doesn't exist. Keys absent from the
// file keep their default value.
func LoadServerConfig(dataDir string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(filepath.Join(dataDir, configFileName)) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", configFileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configFileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", configFileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/server_config.yaml.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := jsonldb.WriteFileAtomic(filepath.Join(dataDir, configFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFileName, err)
	}
	return nil
}
