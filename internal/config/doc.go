// Package config loads, normalizes, and validates trackrelay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TRACKRELAY_API_TOKEN and TRACKRELAY_CATALOG_TOKEN. The Config type
// centralizes every knob the daemon and CLI need: queue limits, wrapper
// transport, retention, and artifact layout.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical codec names, and clear validation errors.
package config
