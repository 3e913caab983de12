// Package history persists one row per autopipe invocation in SQLite.
//
// A row is inserted when a run starts and updated once the run, fetch, and
// release have all finished, so an interrupted invocation leaves a row in the
// started state. Schema changes are appended to the migration list in
// schema.go and applied on open; a database from a newer build is refused.
package history
