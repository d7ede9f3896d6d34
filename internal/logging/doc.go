// Package logging configures structured slog logging for codeindex.
//
// Logs are JSON lines written to a size-rotated file under
// ~/.codeindex/logs/ and optionally mirrored to stderr. Components log
// through a child logger carrying a "source" attribute, and indexing runs
// add a "run_id" attribute so all lines for one run can be correlated.
package logging
