// Package main hosts the autopipe CLI entrypoint and command graph.
//
// The Cobra-based command tree compiles pipeline documents, runs them against
// the configured volume and execution backends, inspects run history, and
// scaffolds configuration. It centralizes configuration resolution and logger
// setup so subcommands stay declarative while the work lives in the internal
// packages.
package main
