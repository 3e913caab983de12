// Package kubeflow executes pipelines on Kubeflow Pipelines through its
// v2beta1 REST API.
//
// Package renders the compiled pipeline as KFP IR YAML: a PipelineSpec
// document followed by a Kubernetes platform document that mounts the run's
// volume parameter on every executor. Submit uploads that package, ensures
// the experiment exists, and creates a run with the volume bound.
package kubeflow
