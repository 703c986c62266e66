// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
  driver: "sqlite3"

identity:
  source: "file"
  file: "/tmp/active"
  wait_timeout: "500ms"

memory:
  dimensions: 128
  default_limit: 3
  cache_size: 64
  cache_ttl: "1m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite3")
	}
	if cfg.Identity.Source != SourceFile {
		t.Errorf("Identity.Source = %q, want %q", cfg.Identity.Source, SourceFile)
	}
	if cfg.Identity.File != "/tmp/active" {
		t.Errorf("Identity.File = %q, want %q", cfg.Identity.File, "/tmp/active")
	}
	if cfg.Identity.WaitTimeout != 500*time.Millisecond {
		t.Errorf("Identity.WaitTimeout = %v, want %v", cfg.Identity.WaitTimeout, 500*time.Millisecond)
	}
	if cfg.Identity.StoreName != "identity" {
		t.Errorf("Identity.StoreName = %q, want default %q", cfg.Identity.StoreName, "identity")
	}
	if cfg.Memory.Dimensions != 128 {
		t.Errorf("Memory.Dimensions = %d, want 128", cfg.Memory.Dimensions)
	}
	if cfg.Memory.DefaultLimit != 3 {
		t.Errorf("Memory.DefaultLimit = %d, want 3", cfg.Memory.DefaultLimit)
	}
	if cfg.Memory.CacheSize != 64 {
		t.Errorf("Memory.CacheSize = %d, want 64", cfg.Memory.CacheSize)
	}
	if cfg.Memory.CacheTTL != time.Minute {
		t.Errorf("Memory.CacheTTL = %v, want %v", cfg.Memory.CacheTTL, time.Minute)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[database]
path = "./test.db"

[identity]
source = "token"
token_file = "/tmp/session.jwt"
token_secret = "0123456789abcdef0123456789abcdef"
wait_timeout = "3s"

[memory]
dimensions = 64
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Identity.Source != SourceToken {
		t.Errorf("Identity.Source = %q, want %q", cfg.Identity.Source, SourceToken)
	}
	if cfg.Identity.TokenFile != "/tmp/session.jwt" {
		t.Errorf("Identity.TokenFile = %q, want %q", cfg.Identity.TokenFile, "/tmp/session.jwt")
	}
	if cfg.Identity.WaitTimeout != 3*time.Second {
		t.Errorf("Identity.WaitTimeout = %v, want %v", cfg.Identity.WaitTimeout, 3*time.Second)
	}
	if cfg.Memory.Dimensions != 64 {
		t.Errorf("Memory.Dimensions = %d, want 64", cfg.Memory.Dimensions)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want default %q", cfg.Database.Driver, "sqlite")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HEARTH_SECRET", "secret-from-env")
	t.Setenv("TEST_HEARTH_DB", "/data/from-env.db")

	configPath := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_HEARTH_DB}"
identity:
  source: "token"
  token_file: "/tmp/t.jwt"
  token_secret: "${TEST_HEARTH_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Identity.TokenSecret != "secret-from-env" {
		t.Errorf("Identity.TokenSecret = %q, want %q", cfg.Identity.TokenSecret, "secret-from-env")
	}
	if cfg.Database.Path != "/data/from-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/from-env.db")
	}
}

func TestLoad_UnsetEnvVarExpandsToEmpty(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
identity:
  source: "token"
  token_file: "/tmp/t.jwt"
  token_secret: "${HEARTH_TEST_DEFINITELY_UNSET_VAR}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for empty token secret, got nil")
	}
	if !strings.Contains(err.Error(), "token_secret") {
		t.Errorf("error = %q, want mention of token_secret", err.Error())
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.Identity.WaitTimeout != def.Identity.WaitTimeout {
		t.Errorf("Identity.WaitTimeout = %v, want %v", cfg.Identity.WaitTimeout, def.Identity.WaitTimeout)
	}
	if cfg.Memory.CacheTTL != def.Memory.CacheTTL {
		t.Errorf("Memory.CacheTTL = %v, want %v", cfg.Memory.CacheTTL, def.Memory.CacheTTL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"invalid yaml", "config.yaml", "database: [unclosed", "parsing config file"},
		{"invalid toml", "config.toml", "[database\npath =", "parsing config file"},
		{"bad duration", "config.yaml", "identity:\n  wait_timeout: \"soon\"\n", "wait_timeout"},
		{"bad cache ttl", "config.yaml", "memory:\n  cache_ttl: \"10 minutes\"\n", "cache_ttl"},
		{"unknown driver", "config.yaml", "database:\n  driver: \"postgres\"\n", "database.driver"},
		{"unknown source", "config.yaml", "identity:\n  source: \"ldap\"\n", "identity.source"},
		{"empty db path", "config.yaml", "database:\n  path: \"\"\n", "database.path"},
		{"zero dimensions", "config.yaml", "memory:\n  dimensions: 0\n", "memory.dimensions"},
		{"bad log format", "config.yaml", "logging:\n  format: \"xml\"\n", "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Database.Path != "/xdg/data/hearth/hearth.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/xdg/data/hearth/hearth.db")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("HEARTH_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	if got := Path(); got != "/xdg/config/hearth/config.yaml" {
		t.Errorf("Path() = %q, want %q", got, "/xdg/config/hearth/config.yaml")
	}

	t.Setenv("HEARTH_CONFIG", "/etc/hearth.toml")
	if got := Path(); got != "/etc/hearth.toml" {
		t.Errorf("Path() = %q, want %q", got, "/etc/hearth.toml")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HEARTH_A", "alpha")

	got := expandEnvVars("x=${HEARTH_A} y=${HEARTH_MISSING_VAR} z=$HEARTH_A")
	want := "x=alpha y= z=$HEARTH_A"
	if got != want {
		t.Errorf("expandEnvVars() = %q, want %q", got, want)
	}
}
