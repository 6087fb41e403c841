// Package config loads, validates, and normalizes the fivecut daemon
// configuration from a TOML file.
package config
