package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"autopipe/internal/config"
	"autopipe/internal/logging"
	"autopipe/internal/services"
)

const (
	maxBackoffFactor       = 8
	defaultTeardownTimeout = 10 * time.Minute
)

// Options tune naming and retry behaviour.
type Options struct {
	NamePrefix    string
	Size          string
	ReadyAttempts int
	ReadyBackoff  time.Duration
	CopyAttempts  int

	// TeardownTimeout bounds access point removal after a fetch.
	TeardownTimeout time.Duration
}

// OptionsFromConfig reads the storage section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NamePrefix:    cfg.Storage.NamePrefix,
		Size:          cfg.Storage.Size,
		ReadyAttempts: cfg.Storage.ReadyAttempts,
		ReadyBackoff:  cfg.ReadyBackoff(),
		CopyAttempts:  cfg.Storage.CopyAttempts,

		TeardownTimeout: cfg.TeardownTimeout(),
	}
}

// Manager drives the shared volume lifecycle against a backend.
type Manager struct {
	backend VolumeBackend
	opts    Options
	logger  *slog.Logger
	newID   func() string
}

// NewManager constructs a manager. Zero retry settings fall back to one attempt.
func NewManager(backend VolumeBackend, opts Options, logger *slog.Logger) *Manager {
	if opts.NamePrefix == "" {
		opts.NamePrefix = "mypipe-pvc"
	}
	if opts.Size == "" {
		opts.Size = "5Gi"
	}
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = 1
	}
	if opts.CopyAttempts <= 0 {
		opts.CopyAttempts = 1
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	return &Manager{
		backend: backend,
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "storage"),
		newID:   func() string { return uuid.NewString() },
	}
}

// NewVolumeName returns a fresh {prefix}-{uuid} name.
func (m *Manager) NewVolumeName() string {
	return m.opts.NamePrefix + "-" + m.newID()
}

// Allocate creates a uniquely named volume and waits until the backend reports
// it ready. An empty size uses the configured default.
func (m *Manager) Allocate(ctx context.Context, size string) (Volume, error) {
	if size == "" {
		size = m.opts.Size
	}
	vol := Volume{Name: m.NewVolumeName(), Size: size, CreatedAt: time.Now().UTC()}
	ctx = services.WithVolume(services.WithStage(ctx, "allocate"), vol.Name)
	logger := logging.WithContext(ctx, m.logger)

	if err := m.backend.Create(ctx, vol.Name, size); err != nil {
		return Volume{}, services.Wrap(services.ErrVolumeAllocation, "allocate", "create", vol.Name, err)
	}
	ready, err := m.poll(ctx, m.opts.ReadyAttempts, func(ctx context.Context) (bool, error) {
		return m.backend.Ready(ctx, vol.Name)
	})
	if err != nil || !ready {
		if err == nil {
			err = fmt.Errorf("not ready after %d attempts", m.opts.ReadyAttempts)
		}
		if cleanupErr := m.deleteQuietly(ctx, vol.Name); cleanupErr != nil {
			logger.Warn("cleanup of unready volume failed", logging.Error(cleanupErr))
		}
		return Volume{}, services.Wrap(services.ErrVolumeAllocation, "allocate", "ready", vol.Name, err)
	}
	logger.Info("volume allocated", logging.String("size", size))
	return vol, nil
}

// Fetch copies the volume contents into dest through a transient access
// point. The access point is always detached, including on copy failure.
func (m *Manager) Fetch(ctx context.Context, vol Volume, dest string) (err error) {
	ctx = services.WithVolume(services.WithStage(ctx, "fetch"), vol.Name)
	logger := logging.WithContext(ctx, m.logger)

	if mkErr := os.MkdirAll(dest, 0o755); mkErr != nil {
		return services.Wrap(services.ErrFetchFailed, "fetch", "prepare destination", dest, mkErr)
	}

	ap, attachErr := m.backend.AttachForCopy(ctx, vol.Name)
	if attachErr != nil {
		return services.Wrap(services.ErrFetchFailed, "fetch", "attach", vol.Name,
			services.Wrap(services.ErrVolumeAccess, "fetch", "attach", "", attachErr))
	}
	defer func() {
		detachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.TeardownTimeout)
		defer cancel()
		if detachErr := m.backend.Detach(detachCtx, ap); detachErr != nil {
			logger.Warn("access point detach failed",
				logging.String("access_point", ap.Name),
				logging.Error(detachErr),
				logging.String(logging.FieldImpact, "access point may need manual removal"),
			)
			if err == nil {
				err = services.Wrap(services.ErrVolumeAccess, "fetch", "detach", ap.Name, detachErr)
			}
		}
	}()

	ready, waitErr := m.poll(ctx, m.opts.ReadyAttempts, func(ctx context.Context) (bool, error) {
		return m.backend.AccessReady(ctx, ap)
	})
	if waitErr != nil || !ready {
		if waitErr == nil {
			waitErr = fmt.Errorf("access point %s not ready after %d attempts", ap.Name, m.opts.ReadyAttempts)
		}
		return services.Wrap(services.ErrFetchFailed, "fetch", "access ready", ap.Name,
			services.Wrap(services.ErrVolumeAccess, "fetch", "access ready", "", waitErr))
	}

	var copyErr error
	for attempt := 1; attempt <= m.opts.CopyAttempts; attempt++ {
		copyErr = m.backend.Copy(ctx, ap, dest)
		if copyErr == nil {
			logger.Info("volume contents fetched", logging.String("destination", dest), logging.Int("attempt", attempt))
			return nil
		}
		if !errors.Is(copyErr, services.ErrVolumeAccess) || attempt == m.opts.CopyAttempts {
			break
		}
		logger.Debug("copy attempt failed, retrying", logging.Int("attempt", attempt), logging.Error(copyErr))
		if sleepErr := sleep(ctx, m.backoff(attempt)); sleepErr != nil {
			copyErr = sleepErr
			break
		}
	}
	return services.Wrap(services.ErrFetchFailed, "fetch", "copy", vol.Name, copyErr)
}

// Release deletes the volume. A volume that no longer exists counts as
// released, so calling Release twice is safe.
func (m *Manager) Release(ctx context.Context, vol Volume) error {
	ctx = services.WithVolume(services.WithStage(ctx, "release"), vol.Name)
	logger := logging.WithContext(ctx, m.logger)

	err := m.backend.Delete(ctx, vol.Name)
	switch {
	case err == nil:
		logger.Info("volume released")
		return nil
	case errors.Is(err, services.ErrVolumeNotFound):
		logger.Info("volume already absent", logging.String("reason", "not found"))
		return nil
	default:
		return services.Wrap(services.ErrReleaseFailed, "release", "delete", vol.Name, err)
	}
}

func (m *Manager) deleteQuietly(ctx context.Context, name string) error {
	err := m.backend.Delete(context.WithoutCancel(ctx), name)
	if errors.Is(err, services.ErrVolumeNotFound) {
		return nil
	}
	return err
}

// poll calls check until it reports true, retrying errors and false results
// up to attempts times with exponential backoff.
func (m *Manager) poll(ctx context.Context, attempts int, check func(context.Context) (bool, error)) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := check(ctx)
		if err == nil && ok {
			return true, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, m.backoff(attempt)); err != nil {
			return false, err
		}
	}
	return false, lastErr
}

func (m *Manager) backoff(attempt int) time.Duration {
	factor := time.Duration(1)
	for i := 1; i < attempt && factor < maxBackoffFactor; i++ {
		factor *= 2
	}
	return m.opts.ReadyBackoff * factor
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
