// Package logging assembles structured slog loggers and formatting helpers used
// across the sweep.
//
// It owns the console and JSON handlers and exposes context-aware helpers so
// stage code can tag log lines with the run ID, stage, and index pattern it is
// working on. A no-op logger is provided for tests and wiring code that cannot
// fail.
package logging
