package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/safe/internal/models"
)

// Config holds the application settings. The user's identity and safe
// credentials are not settings: they live in the encrypted config record
// at Paths.ConfigFile.
type Config struct {
	// File locations
	Paths PathsConfig `json:"paths" mapstructure:"paths"`

	// Blob store defaults
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// PathsConfig for local files.
type PathsConfig struct {
	ConfigFile         string `json:"config_file" mapstructure:"config_file"`                   // Encrypted config record
	KeychainDir        string `json:"keychain_dir" mapstructure:"keychain_dir"`                 // Local identity + recipient keys
	LegacyIdentityFile string `json:"legacy_identity_file" mapstructure:"legacy_identity_file"` // Plain-text identity from the first release
}

// StoreConfig for blob store connections. Safes may override backend,
// region and endpoint individually.
type StoreConfig struct {
	Backend  string        `json:"backend" mapstructure:"backend"`
	Region   string        `json:"region" mapstructure:"region"`
	Endpoint string        `json:"endpoint" mapstructure:"endpoint"`
	LocalDir string        `json:"local_dir" mapstructure:"local_dir"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`

	// Bucket used by the first release, read during legacy migration.
	LegacyBucket string `json:"legacy_bucket" mapstructure:"legacy_bucket"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`   // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".safe"
	if homeDir, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(homeDir, ".safe")
	}

	legacyIdentity := ".saferc"
	if homeDir, err := os.UserHomeDir(); err == nil {
		legacyIdentity = filepath.Join(homeDir, ".saferc")
	}

	return &Config{
		Paths: PathsConfig{
			ConfigFile:         filepath.Join(dataDir, "config.json"),
			KeychainDir:        filepath.Join(dataDir, "keys"),
			LegacyIdentityFile: legacyIdentity,
		},
		Store: StoreConfig{
			Backend:      models.BackendS3,
			Region:       "us-east-1",
			LocalDir:     filepath.Join(dataDir, "blobs"),
			Timeout:      30 * time.Second,
			LegacyBucket: "scoryst-safe",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			File:   "",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Paths.ConfigFile == "" {
		return errors.New("paths.config_file is required")
	}

	if c.Paths.KeychainDir == "" {
		return errors.New("paths.keychain_dir is required")
	}

	if !models.IsKnownBackend(c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout must be positive")
	}

	if c.Store.Backend == models.BackendLocal && c.Store.LocalDir == "" {
		return errors.New("store.local_dir is required for the local backend")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Paths.ConfigFile),
		c.Paths.KeychainDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
