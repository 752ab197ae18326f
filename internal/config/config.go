// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for rynk.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.rynk/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rynk-ai/rynk-go/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rynk configuration.
type Config struct {
	// API configuration
	API APIConfig `toml:"api"`

	// Jobs configuration (background title generation)
	Jobs JobsConfig `toml:"jobs"`

	// Cache configuration (local conversation history)
	Cache CacheConfig `toml:"cache"`
}

// APIConfig contains backend connection configuration.
type APIConfig struct {
	// BaseURL is the backend API base URL
	BaseURL string `toml:"base_url"`
	// Token is the bearer token; empty runs in guest mode
	Token string `toml:"token"`
	// TimeoutSecs is the per-request timeout for non-streaming calls
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries is the retry budget for transient failures
	MaxRetries int `toml:"max_retries"`
}

// JobsConfig contains background job polling configuration.
type JobsConfig struct {
	// PollAttempts is the maximum number of job status polls
	PollAttempts int `toml:"poll_attempts"`
	// PollIntervalMS is the pacing between polls in milliseconds
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// CacheConfig contains local history cache configuration.
type CacheConfig struct {
	// Enabled controls whether the local SQLite cache is used
	Enabled bool `toml:"enabled"`
	// Path is the cache database path (empty = default ~/.rynk/history.db)
	Path string `toml:"path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://api.rynk.ai/v1",
			Token:       "",
			TimeoutSecs: 30,
			MaxRetries:  3,
		},
		Jobs: JobsConfig{
			PollAttempts:   20,
			PollIntervalMS: 1500,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rynk configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rynk"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CachePath returns the effective cache database path.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on the config file.
// The file holds the bearer token, so it should be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file with 0600
// permissions, atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo saves the configuration to a TOML file.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	buf.WriteString("# rynk configuration file\n")
	buf.WriteString("# Generated by rynk - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.API.BaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: "must not be empty",
		})
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s'", c.API.BaseURL),
		})
	}

	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 300 {
		errs = append(errs, ValidationError{
			Field:   "api.timeout_secs",
			Message: fmt.Sprintf("must be 1-300, got %d", c.API.TimeoutSecs),
		})
	}

	if c.API.MaxRetries < 0 || c.API.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.API.MaxRetries),
		})
	}

	if c.Jobs.PollAttempts < 1 || c.Jobs.PollAttempts > 100 {
		errs = append(errs, ValidationError{
			Field:   "jobs.poll_attempts",
			Message: fmt.Sprintf("must be 1-100, got %d", c.Jobs.PollAttempts),
		})
	}

	if c.Jobs.PollIntervalMS < 100 || c.Jobs.PollIntervalMS > 60000 {
		errs = append(errs, ValidationError{
			Field:   "jobs.poll_interval_ms",
			Message: fmt.Sprintf("must be 100-60000, got %d", c.Jobs.PollIntervalMS),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = defaults.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = defaults.API.MaxRetries
	}
	if c.Jobs.PollAttempts == 0 {
		c.Jobs.PollAttempts = defaults.Jobs.PollAttempts
	}
	if c.Jobs.PollIntervalMS == 0 {
		c.Jobs.PollIntervalMS = defaults.Jobs.PollIntervalMS
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RYNK_BASE_URL: overrides api.base_url
//   - RYNK_TOKEN: overrides api.token
//   - RYNK_TIMEOUT_SECS: overrides api.timeout_secs
//   - RYNK_NO_CACHE: set to "1" or "true" to disable the local cache
//   - RYNK_CACHE_PATH: overrides cache.path
func (c *Config) ApplyEnvOverrides() {
	if base := os.Getenv("RYNK_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if token := os.Getenv("RYNK_TOKEN"); token != "" {
		c.API.Token = token
	}
	if timeout := os.Getenv("RYNK_TIMEOUT_SECS"); timeout != "" {
		if n, err := strconv.Atoi(timeout); err == nil {
			c.API.TimeoutSecs = n
		}
	}
	if noCache := os.Getenv("RYNK_NO_CACHE"); noCache != "" {
		c.Cache.Enabled = !(noCache == "1" || strings.ToLower(noCache) == "true")
	}
	if path := os.Getenv("RYNK_CACHE_PATH"); path != "" {
		c.Cache.Path = path
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// IsGuest reports whether the config runs without an authenticated token.
func (c *Config) IsGuest() bool {
	return c.API.Token == ""
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
// The bearer token is redacted so it never lands in logs.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.API.Token != "" {
		safe.API.Token = "[REDACTED]"
	}
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
