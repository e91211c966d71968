// Package logging assembles structured slog loggers and formatting helpers used
// across discnorm.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code automatically tags log
// lines with the run ID, group, and stage. A no-op logger is provided for
// tests and for wiring code that cannot fail.
package logging
