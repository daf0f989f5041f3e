package runtime

import (
	"context"

	dockertypes "github.com/docker/docker/api/types"
)

// dockerAPI defines the subset of Docker client operations used by DockerInspector.
// Tests inject fakes through this interface instead of talking to a daemon.
type dockerAPI interface {
	// Ping checks connectivity to the Docker daemon.
	Ping(ctx context.Context) (dockertypes.Ping, error)

	// ContainerInspect returns low-level information about a container.
	ContainerInspect(ctx context.Context, containerID string) (dockertypes.ContainerJSON, error)

	// Close releases resources associated with the client.
	Close() error
}
