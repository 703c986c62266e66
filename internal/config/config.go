// ABOUTME: Configuration loading and parsing for hearth
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Identity source kinds
const (
	SourceStore = "store"
	SourceFile  = "file"
	SourceToken = "token"
)

// Config represents the complete hearth configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Identity IdentityConfig `yaml:"identity" toml:"identity"`
	Memory   MemoryConfig   `yaml:"memory" toml:"memory"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
	// Driver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo)
	Driver string `yaml:"driver" toml:"driver"`
}

// IdentityConfig selects where the active account comes from
type IdentityConfig struct {
	Source      string `yaml:"source" toml:"source"`
	StoreName   string `yaml:"store_name" toml:"store_name"`
	File        string `yaml:"file" toml:"file"`
	TokenFile   string `yaml:"token_file" toml:"token_file"`
	TokenSecret string `yaml:"token_secret" toml:"token_secret"`

	WaitTimeout    time.Duration `yaml:"-" toml:"-"`
	WaitTimeoutRaw string        `yaml:"wait_timeout" toml:"wait_timeout"`
}

// MemoryConfig holds semantic memory index configuration
type MemoryConfig struct {
	Dimensions   int    `yaml:"dimensions" toml:"dimensions"`
	Model        string `yaml:"model" toml:"model"`
	DefaultLimit int    `yaml:"default_limit" toml:"default_limit"`
	CacheSize    int    `yaml:"cache_size" toml:"cache_size"`

	CacheTTL    time.Duration `yaml:"-" toml:"-"`
	CacheTTLRaw string        `yaml:"cache_ttl" toml:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration that works out of the box, storing data
// under the XDG data directory.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:   filepath.Join(DataDir(), "hearth.db"),
			Driver: "sqlite",
		},
		Identity: IdentityConfig{
			Source:      SourceStore,
			StoreName:   "identity",
			File:        filepath.Join(DataDir(), "active-account"),
			TokenFile:   filepath.Join(DataDir(), "session.jwt"),
			WaitTimeout: 2 * time.Second,
		},
		Memory: MemoryConfig{
			Dimensions:   256,
			Model:        "hash-v1",
			DefaultLimit: 5,
			CacheSize:    512,
			CacheTTL:     10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML. Values
// missing from the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Path returns the config file location.
// Priority: HEARTH_CONFIG env var > XDG_CONFIG_HOME/hearth/config.yaml > ~/.config/hearth/config.yaml
func Path() string {
	if p := os.Getenv("HEARTH_CONFIG"); p != "" {
		return p
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "hearth", "config.yaml")
}

// DataDir returns the data directory.
// Priority: XDG_DATA_HOME/hearth > ~/.local/share/hearth
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "hearth")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	switch c.Identity.Source {
	case SourceStore:
	case SourceFile:
		if c.Identity.File == "" {
			return fmt.Errorf("identity.file is required when identity.source is file")
		}
	case SourceToken:
		if c.Identity.TokenFile == "" {
			return fmt.Errorf("identity.token_file is required when identity.source is token")
		}
		if c.Identity.TokenSecret == "" {
			return fmt.Errorf("identity.token_secret is required when identity.source is token")
		}
	default:
		return fmt.Errorf("identity.source must be store, file or token, got %q", c.Identity.Source)
	}

	if c.Identity.WaitTimeout <= 0 {
		return fmt.Errorf("identity.wait_timeout must be positive")
	}

	if c.Memory.Dimensions <= 0 {
		return fmt.Errorf("memory.dimensions must be positive")
	}
	if c.Memory.DefaultLimit <= 0 {
		return fmt.Errorf("memory.default_limit must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Identity.WaitTimeoutRaw != "" {
		cfg.Identity.WaitTimeout, err = time.ParseDuration(cfg.Identity.WaitTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing wait_timeout %q: %w", cfg.Identity.WaitTimeoutRaw, err)
		}
	}

	if cfg.Memory.CacheTTLRaw != "" {
		cfg.Memory.CacheTTL, err = time.ParseDuration(cfg.Memory.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Memory.CacheTTLRaw, err)
		}
	}

	return nil
}
