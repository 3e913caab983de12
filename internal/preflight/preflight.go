package preflight

import (
	"context"

	"autopipe/internal/backend/kubeflow"
	"autopipe/internal/config"
	"autopipe/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, exec services.Executor) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckWritableTarget("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckWritableTarget("Log directory", cfg.Paths.LogDir))

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available || status.Optional, Detail: status.Path}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}

	if cfg.Storage.Backend == config.BackendKubectl {
		results = append(results, CheckKubectlNamespace(ctx, exec, cfg.Kubectl.Binary, cfg.Kubectl.Context, cfg.Storage.Namespace))
	}
	if cfg.Execution.Backend == config.BackendKubeflow {
		results = append(results, CheckKubeflow(ctx, kubeflow.NewClient(cfg)))
	}
	return results
}
