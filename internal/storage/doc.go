// Package storage manages the shared volume that every pipeline step mounts.
//
// Manager owns the lifecycle (allocate, fetch, release) and its retry policy.
// The concrete resource handling lives behind VolumeBackend, implemented by
// the kubectl and docker backends.
package storage
