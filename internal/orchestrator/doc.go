// Package orchestrator submits compiled pipelines and tracks them to a
// terminal state.
//
// The orchestrator is sequential: package, submit, then poll at a fixed
// interval until the backend reports a terminal state or the timeout expires.
// Backends execute the steps themselves and only need to honour each step's
// After constraints.
package orchestrator
