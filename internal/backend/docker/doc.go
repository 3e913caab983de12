// Package docker runs compiled pipelines on the local docker daemon.
//
// Volume implements storage.VolumeBackend with named docker volumes and a
// stopped helper container for copying contents out. Runner implements
// orchestrator.Backend and orchestrator.Canceler by executing each step as a
// `docker run --rm` container against the shared volume, starting a step only
// once every step it runs after has succeeded.
package docker
