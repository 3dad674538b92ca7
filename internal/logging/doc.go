// Package logging assembles structured slog loggers and formatting helpers used
// across trackrelay.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so pipeline and scheduler code can tag log lines
// with task IDs, stages, requesters, and correlation IDs. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
