package docker

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

const managedLabel = "io.autopipe.managed=true"

// VolumeOptions configures the docker volume backend.
type VolumeOptions struct {
	Binary      string
	AccessImage string
	MountPath   string
}

// Volume implements storage.VolumeBackend with docker named volumes.
type Volume struct {
	opts   VolumeOptions
	exec   services.Executor
	logger *slog.Logger
}

// NewVolume constructs a volume backend from configuration.
func NewVolume(cfg *config.Config, exec services.Executor, logger *slog.Logger) *Volume {
	return NewVolumeWithOptions(VolumeOptions{
		Binary:      cfg.Docker.Binary,
		AccessImage: cfg.Storage.AccessImage,
		MountPath:   cfg.Pipeline.MountRoot,
	}, exec, logger)
}

// NewVolumeWithOptions constructs a volume backend with explicit options.
func NewVolumeWithOptions(opts VolumeOptions, exec services.Executor, logger *slog.Logger) *Volume {
	if opts.Binary == "" {
		opts.Binary = "docker"
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
	return &Volume{opts: opts, exec: exec, logger: logging.NewComponentLogger(logger, "docker-volume")}
}

func (v *Volume) run(ctx context.Context, args ...string) (string, error) {
	v.logger.Debug("docker", logging.Strings("args", args))
	out, err := v.exec.Run(ctx, v.opts.Binary, args, nil)
	return strings.TrimSpace(out.Stdout), err
}

func noSuchObject(err error) bool {
	var cmdErr *services.CommandError
	return errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "no such")
}

// Create creates a named volume. The local driver has no size quota, so size
// is only logged.
func (v *Volume) Create(ctx context.Context, name, size string) error {
	if _, err := v.run(ctx, "volume", "create", "--label", managedLabel, name); err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	v.logger.Debug("volume created", logging.Volume(name), logging.String("requested_size", size))
	return nil
}

// Ready reports whether the volume exists.
func (v *Volume) Ready(ctx context.Context, name string) (bool, error) {
	out, err := v.run(ctx, "volume", "inspect", "--format", "{{.Name}}", name)
	if err != nil {
		if noSuchObject(err) {
			return false, fmt.Errorf("volume %s: %w", name, services.ErrVolumeNotFound)
		}
		return false, err
	}
	return out == name, nil
}

// AttachForCopy creates a stopped helper container with the volume mounted.
func (v *Volume) AttachForCopy(ctx context.Context, volume string) (storage.AccessPoint, error) {
	ap := storage.AccessPoint{
		Name:      "autopipe-access-" + uuid.NewString()[:8],
		Volume:    volume,
		MountPath: v.opts.MountPath,
	}
	mount := volume + ":" + ap.MountPath
	if _, err := v.run(ctx, "create", "--name", ap.Name, "--label", managedLabel, "-v", mount, v.opts.AccessImage); err != nil {
		return storage.AccessPoint{}, fmt.Errorf("create helper container %s: %w", ap.Name, err)
	}
	return ap, nil
}

// AccessReady reports whether the helper container exists. docker cp works on
// created containers, so it never needs to start.
func (v *Volume) AccessReady(ctx context.Context, ap storage.AccessPoint) (bool, error) {
	status, err := v.run(ctx, "container", "inspect", "--format", "{{.State.Status}}", ap.Name)
	if err != nil {
		return false, err
	}
	switch status {
	case "created", "running", "exited":
		return true, nil
	default:
		return false, nil
	}
}

// Copy copies the volume contents into dest.
func (v *Volume) Copy(ctx context.Context, ap storage.AccessPoint, dest string) error {
	source := ap.Name + ":" + strings.TrimRight(ap.MountPath, "/") + "/."
	if _, err := v.run(ctx, "cp", source, dest); err != nil {
		return services.Wrap(services.ErrVolumeAccess, "fetch", "docker cp", source, err)
	}
	return nil
}

// Detach removes the helper container.
func (v *Volume) Detach(ctx context.Context, ap storage.AccessPoint) error {
	if _, err := v.run(ctx, "rm", "-f", ap.Name); err != nil && !noSuchObject(err) {
		return fmt.Errorf("remove helper container %s: %w", ap.Name, err)
	}
	return nil
}

// Delete removes the volume.
func (v *Volume) Delete(ctx context.Context, name string) error {
	if _, err := v.run(ctx, "volume", "rm", name); err != nil {
		if noSuchObject(err) {
			return fmt.Errorf("volume %s: %w", name, services.ErrVolumeNotFound)
		}
		return fmt.Errorf("remove volume %s: %w", name, err)
	}
	return nil
}
