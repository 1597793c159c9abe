// Package config loads, normalizes, and validates the TOML configuration for
// the sharepipe daemon and CLI.
package config
