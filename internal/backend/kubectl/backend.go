// Package kubectl provides the Kubernetes volume backend. Volumes are
// PersistentVolumeClaims; fetching goes through a short-lived busybox pod and
// kubectl cp.
package kubectl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/services"
	"autopipe/internal/storage"
)

// Options configures the backend.
type Options struct {
	Binary       string
	Context      string
	Namespace    string
	StorageClass string
	AccessImage  string
	MountPath    string
}

// Backend implements storage.VolumeBackend with kubectl.
type Backend struct {
	opts   Options
	exec   services.Executor
	logger *slog.Logger
}

// New constructs a backend from configuration.
func New(cfg *config.Config, exec services.Executor, logger *slog.Logger) *Backend {
	return NewWithOptions(Options{
		Binary:       cfg.Kubectl.Binary,
		Context:      cfg.Kubectl.Context,
		Namespace:    cfg.Storage.Namespace,
		StorageClass: cfg.Storage.StorageClass,
		AccessImage:  cfg.Storage.AccessImage,
		MountPath:    cfg.Pipeline.MountRoot,
	}, exec, logger)
}

// NewWithOptions constructs a backend with explicit options.
func NewWithOptions(opts Options, exec services.Executor, logger *slog.Logger) *Backend {
	if opts.Binary == "" {
		opts.Binary = "kubectl"
	}
	if opts.Namespace == "" {
		opts.Namespace = "team-1"
	}
	if opts.AccessImage == "" {
		opts.AccessImage = "busybox"
	}
	if opts.MountPath == "" {
		opts.MountPath = "/mnt/data"
	}
	if exec == nil {
		exec = services.CommandExecutor{}
	}
	return &Backend{opts: opts, exec: exec, logger: logging.NewComponentLogger(logger, "kubectl")}
}

func (b *Backend) run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	if b.opts.Context != "" {
		args = append([]string{"--context", b.opts.Context}, args...)
	}
	b.logger.Debug("kubectl", logging.Strings("args", args))
	out, err := b.exec.Run(ctx, b.opts.Binary, args, stdin)
	return strings.TrimSpace(out.Stdout), err
}

func isNotFound(err error) bool {
	var cmdErr *services.CommandError
	return errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "NotFound")
}

// Create applies a PVC manifest.
func (b *Backend) Create(ctx context.Context, name, size string) error {
	manifest, err := pvcManifest(name, b.opts.Namespace, size, b.opts.StorageClass)
	if err != nil {
		return err
	}
	if _, err := b.run(ctx, manifest, "apply", "-f", "-"); err != nil {
		return fmt.Errorf("apply pvc %s: %w", name, err)
	}
	return nil
}

// Ready reports whether the claim is usable. Claims on WaitForFirstConsumer
// classes such as local-path stay Pending until a pod mounts them.
func (b *Backend) Ready(ctx context.Context, name string) (bool, error) {
	phase, err := b.run(ctx, nil, "get", "pvc", name, "-n", b.opts.Namespace, "-o", "jsonpath={.status.phase}")
	if err != nil {
		if isNotFound(err) {
			return false, fmt.Errorf("pvc %s: %w", name, services.ErrVolumeNotFound)
		}
		return false, err
	}
	switch phase {
	case "Bound", "Pending":
		return true, nil
	case "Lost":
		return false, fmt.Errorf("pvc %s lost its volume", name)
	default:
		return false, nil
	}
}

// AttachForCopy starts an access pod that mounts the claim.
func (b *Backend) AttachForCopy(ctx context.Context, volume string) (storage.AccessPoint, error) {
	ap := storage.AccessPoint{
		Name:      "pvc-access-" + uuid.NewString()[:8],
		Volume:    volume,
		MountPath: b.opts.MountPath,
	}
	manifest, err := accessPodManifest(ap.Name, b.opts.Namespace, volume, b.opts.AccessImage, ap.MountPath)
	if err != nil {
		return storage.AccessPoint{}, err
	}
	if _, err := b.run(ctx, manifest, "apply", "-f", "-"); err != nil {
		return storage.AccessPoint{}, fmt.Errorf("apply access pod %s: %w", ap.Name, err)
	}
	return ap, nil
}

// AccessReady reports whether the access pod is running.
func (b *Backend) AccessReady(ctx context.Context, ap storage.AccessPoint) (bool, error) {
	phase, err := b.run(ctx, nil, "get", "pod", ap.Name, "-n", b.opts.Namespace, "-o", "jsonpath={.status.phase}")
	if err != nil {
		return false, err
	}
	switch phase {
	case "Running":
		return true, nil
	case "Failed", "Succeeded":
		return false, fmt.Errorf("access pod %s ended in phase %s", ap.Name, phase)
	default:
		return false, nil
	}
}

// Copy copies the mounted volume into dest. Failures are treated as transient.
func (b *Backend) Copy(ctx context.Context, ap storage.AccessPoint, dest string) error {
	source := fmt.Sprintf("%s/%s:%s", b.opts.Namespace, ap.Name, ap.MountPath)
	if _, err := b.run(ctx, nil, "cp", source, dest); err != nil {
		return services.Wrap(services.ErrVolumeAccess, "fetch", "kubectl cp", source, err)
	}
	return nil
}

// Detach deletes the access pod.
func (b *Backend) Detach(ctx context.Context, ap storage.AccessPoint) error {
	if _, err := b.run(ctx, nil, "delete", "pod", ap.Name, "-n", b.opts.Namespace, "--ignore-not-found"); err != nil {
		return fmt.Errorf("delete access pod %s: %w", ap.Name, err)
	}
	return nil
}

// Delete force-deletes the claim.
func (b *Backend) Delete(ctx context.Context, name string) error {
	_, err := b.run(ctx, nil, "delete", "pvc", name, "-n", b.opts.Namespace, "--grace-period=0", "--force", "--wait=false")
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("pvc %s: %w", name, services.ErrVolumeNotFound)
		}
		return fmt.Errorf("delete pvc %s: %w", name, err)
	}
	return nil
}
