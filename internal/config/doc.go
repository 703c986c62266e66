// Package config handles configuration loading for hearth.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so an empty or missing file yields a
// working configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HEARTH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hearth/config.yaml
//  3. ~/.config/hearth/config.yaml
//
// A path ending in .toml is parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	identity:
//	  token_secret: "${HEARTH_TOKEN_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	identity:
//	  wait_timeout: "2s"
//	memory:
//	  cache_ttl: "10m"
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "~/.local/share/hearth/hearth.db"
//	  driver: "sqlite"   # sqlite (pure Go), sqlite3 (cgo)
//
// Identity:
//
//	identity:
//	  source: "store"          # store, file, token
//	  store_name: "identity"
//	  file: "/path/to/active-account"
//	  token_file: "/path/to/session.jwt"
//	  token_secret: "${HEARTH_TOKEN_SECRET}"
//	  wait_timeout: "2s"
//
// Memory index:
//
//	memory:
//	  dimensions: 256
//	  default_limit: 5
//	  cache_size: 512
//	  cache_ttl: "10m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
