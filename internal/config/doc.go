// Package config loads, normalizes, and validates discnorm configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DISCNORM_DAT. The Config type centralizes every knob the CLI and pipeline
// need so directories, tool binaries, and verification policy are resolved
// in one pass.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical log formats, and clear validation errors.
package config
