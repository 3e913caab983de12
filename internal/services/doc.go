// Package services defines shared utilities consumed by the invocation
// workflow and the backend integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, volume names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the taxonomy the CLI reports (exit status and summary line).
//   - Command execution abstractions that make kubectl and docker calls
//     testable.
//
// Use these helpers when wiring new backend logic so operational behaviour
// (error handling, observability, retries) stays uniform across the tool.
package services
