// Package logging assembles structured slog loggers and formatting helpers used
// across Printlink.
//
// It owns the console/JSON handlers, level and output plumbing, and
// context-aware helpers that tag log lines with device identifiers and
// correlation IDs. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
