// Package logging assembles the slog loggers used by autopipe.
//
// Console output goes to stderr in either a compact human format or JSON, and
// when a log directory is configured every record is also appended as JSON to
// autopipe.log. Context helpers tag lines with the run ID, stage, and volume
// carried on the context so orchestration code does not thread them by hand.
package logging
