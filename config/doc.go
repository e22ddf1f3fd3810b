// Package config loads YAML host configuration for the bundled commands,
// with ${VAR} environment expansion and duration string parsing.
package config
