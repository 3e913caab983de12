package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"autopipe/internal/backend/kubeflow"
	"autopipe/internal/config"
	"autopipe/internal/deps"
	"autopipe/internal/services"
)

// CheckKubeflow verifies that the Kubeflow Pipelines API is reachable and
// accepts the configured credentials.
func CheckKubeflow(ctx context.Context, client *kubeflow.Client) Result {
	const name = "Kubeflow API"

	if strings.TrimSpace(client.BaseURL()) == "" {
		return Result{Name: name, Detail: "missing api_url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := client.Healthz(checkCtx)
	if err == nil {
		return Result{Name: name, Passed: true, Detail: client.BaseURL() + " (reachable)"}
	}
	var apiErr *kubeflow.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return Result{Name: name, Detail: "auth failed (check auth_token or session_cookie)"}
		default:
			return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", apiErr.Status)}
		}
	}
	return Result{Name: name, Detail: summarizeNetworkError(err)}
}

// CheckKubectlNamespace verifies that kubectl can reach the cluster and see
// the volume namespace.
func CheckKubectlNamespace(ctx context.Context, exec services.Executor, binary, kubeContext, namespace string) Result {
	name := "Kubernetes namespace"
	if exec == nil {
		exec = services.CommandExecutor{}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var args []string
	if kubeContext != "" {
		args = append(args, "--context", kubeContext)
	}
	args = append(args, "get", "namespace", namespace, "-o", "name")
	if _, err := exec.Run(checkCtx, binary, args, nil); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", namespace, err)}
	}
	return Result{Name: name, Passed: true, Detail: namespace}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckWritableTarget checks path when it exists, or otherwise the nearest
// existing ancestor it would be created under.
func CheckWritableTarget(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	candidate := filepath.Clean(path)
	for {
		if _, err := os.Stat(candidate); err == nil {
			break
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			break
		}
		candidate = parent
	}
	result := CheckDirectoryAccess(name, candidate)
	if result.Passed && candidate != filepath.Clean(path) {
		result.Detail = fmt.Sprintf("%s (will be created under %s)", path, candidate)
	}
	return result
}

// CheckSystemDeps evaluates the binaries required by the configured backends.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	var requirements []deps.Requirement
	if cfg.Storage.Backend == config.BackendKubectl {
		requirements = append(requirements, deps.Requirement{
			Name:        "kubectl",
			Command:     cfg.Kubectl.Binary,
			Description: "Required for PersistentVolumeClaim management",
		})
	}
	if cfg.Storage.Backend == config.BackendDocker || cfg.Execution.Backend == config.BackendDocker {
		requirements = append(requirements, deps.Requirement{
			Name:        "docker",
			Command:     cfg.Docker.Binary,
			Description: "Required for local volumes and step execution",
		})
	}
	return deps.CheckBinaries(requirements)
}

func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (API unreachable)"
	}
	return err.Error()
}
