// Package config holds runtime settings for the bridge.
//
// Settings load in three layers: compiled defaults, an optional YAML
// profile, and DWARF_-prefixed environment variables, with later layers
// winning.
package config
