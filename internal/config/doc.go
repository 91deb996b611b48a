// Package config loads, normalizes, and validates the TOML configuration
// shared by the daemon and CLI. Defaults live in defaults.go; a commented
// sample config is embedded for 'visitsync config init'.
package config
