// Package workflow drives one autopipe invocation end to end.
//
// Runner.Invoke loads the pipeline document, compiles it, allocates the shared
// volume, submits and monitors the run, then fetches the volume contents into
// the output directory and releases the volume. Structural failures stop the
// invocation before any backend call. Once a volume exists it is always
// released, and once a run was submitted its outputs are always fetched,
// whatever the run's terminal state. Teardown runs detached from the caller's
// cancellation so an interrupted invocation still cleans up.
//
// Each invocation holds an exclusive file lock on its output directory and
// leaves one row in the run history store.
package workflow
