// Package preflight provides readiness checks for the binaries, services,
// and filesystem paths autopipe depends on.
//
// The CLI "autopipe preflight" command runs RunAll and prints one row per
// check. Checks are gated by the configured backends: kubectl is only checked
// when it manages volumes, and the Kubeflow API only when it executes runs.
package preflight
