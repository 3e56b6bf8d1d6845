package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SAFE_LOG_LEVEL.
const EnvPrefix = "SAFE"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath  string
	searchPaths []string
}

// NewLoader creates a config loader. An empty configPath searches the
// default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:  configPath,
		searchPaths: defaultSearchPaths(),
	}
}

// WithSearchPaths replaces the default settings directories.
func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = paths
	return l
}

// Load reads configuration from defaults, file and environment, in that
// order of precedence (last wins).
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("settings")
		for _, path := range l.searchPaths {
			v.AddConfigPath(path)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	// Override with environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Paths.ConfigFile = ExpandHome(cfg.Paths.ConfigFile)
	cfg.Paths.KeychainDir = ExpandHome(cfg.Paths.KeychainDir)
	cfg.Paths.LegacyIdentityFile = ExpandHome(cfg.Paths.LegacyIdentityFile)
	cfg.Store.LocalDir = ExpandHome(cfg.Store.LocalDir)
	cfg.Log.File = ExpandHome(cfg.Log.File)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	// Validate final config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("paths.config_file", cfg.Paths.ConfigFile)
	v.SetDefault("paths.keychain_dir", cfg.Paths.KeychainDir)
	v.SetDefault("paths.legacy_identity_file", cfg.Paths.LegacyIdentityFile)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.region", cfg.Store.Region)
	v.SetDefault("store.endpoint", cfg.Store.Endpoint)
	v.SetDefault("store.local_dir", cfg.Store.LocalDir)
	v.SetDefault("store.timeout", cfg.Store.Timeout)
	v.SetDefault("store.legacy_bucket", cfg.Store.LegacyBucket)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
}

// defaultSearchPaths returns default settings directories.
func defaultSearchPaths() []string {
	paths := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "safe"),
			filepath.Join(homeDir, ".safe"),
		)
	}

	return paths
}

// SaveExample writes an example settings file.
func SaveExample(path string) error {
	cfg := DefaultConfig()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
