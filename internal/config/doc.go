// Package config loads, validates, and normalizes the TOML configuration for
// the curator daemon and CLI.
package config
