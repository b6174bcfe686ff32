// Package config loads, normalizes, and validates Printlink configuration files.
//
// It exposes the TOML schema, default values, and helpers that expand user
// paths, derive the daemon socket location, and emit a starter config for
// `printlink config init`. Callers should always obtain configuration through
// Load so defaults and validation stay consistent between the CLI and daemon.
package config
