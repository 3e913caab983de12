package storage

import (
	"context"
	"time"
)

// Volume identifies an allocated shared volume.
type Volume struct {
	Name      string
	Size      string
	CreatedAt time.Time
}

// AccessPoint is a transient attachment used to copy volume contents out.
type AccessPoint struct {
	Name      string
	Volume    string
	MountPath string
}

// VolumeBackend performs the resource operations for one storage technology.
// Delete must return an error matching services.ErrVolumeNotFound when the
// volume does not exist.
type VolumeBackend interface {
	Create(ctx context.Context, name, size string) error
	Ready(ctx context.Context, name string) (bool, error)
	AttachForCopy(ctx context.Context, volume string) (AccessPoint, error)
	AccessReady(ctx context.Context, ap AccessPoint) (bool, error)
	Copy(ctx context.Context, ap AccessPoint, dest string) error
	Detach(ctx context.Context, ap AccessPoint) error
	Delete(ctx context.Context, name string) error
}
