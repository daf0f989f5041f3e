package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const defaultAPITimeout = 5 * time.Second

var _ dockerAPI = (*client.Client)(nil)

// ContainerState is a point-in-time view of one container.
type ContainerState struct {
	Name    string
	Running bool
	// Health is the runtime health status ("healthy", "unhealthy", "starting"),
	// empty when the container has no healthcheck.
	Health string
	Ports  nat.PortMap
}

// Inspector answers container state queries.
type Inspector interface {
	Inspect(ctx context.Context, name string) (ContainerState, error)
}

// DockerInspector implements Inspector using the official Docker Go SDK.
type DockerInspector struct {
	api     dockerAPI
	timeout time.Duration
}

// NewDockerInspector initializes a Docker client for the given API host.
// An empty host uses DOCKER_HOST and the platform default socket.
func NewDockerInspector(host string, timeout time.Duration) (*DockerInspector, error) {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		opts = append(opts, client.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	return &DockerInspector{
		api:     api,
		timeout: timeout,
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (d *DockerInspector) Ping(ctx context.Context) error {
	if d == nil || d.api == nil {
		return errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.api.Ping(ctx)
	return err
}

// Inspect returns the current state of the named container.
// A missing container yields an error wrapping ErrContainerNotFound.
func (d *DockerInspector) Inspect(ctx context.Context, name string) (ContainerState, error) {
	if d == nil || d.api == nil {
		return ContainerState{}, errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.api.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return ContainerState{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	if resp.ContainerJSONBase == nil || resp.State == nil {
		return ContainerState{}, fmt.Errorf("inspect %s: response missing state", name)
	}

	state := ContainerState{
		Name:    strings.TrimPrefix(resp.Name, "/"),
		Running: resp.State.Running,
	}
	if resp.State.Health != nil {
		state.Health = resp.State.Health.Status
	}
	if resp.NetworkSettings != nil {
		state.Ports = resp.NetworkSettings.Ports
	}
	return state, nil
}

// Close releases the underlying client.
func (d *DockerInspector) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}

// PublishesHostPort reports whether any binding in ports exposes the given host port.
func PublishesHostPort(ports nat.PortMap, hostPort int) bool {
	want := fmt.Sprintf("%d", hostPort)
	for _, bindings := range ports {
		for _, binding := range bindings {
			if binding.HostPort == want {
				return true
			}
		}
	}
	return false
}
