package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// Registry container defaults.
const (
	// RegistryImageName is the upstream registry image used for the local
	// registry container.
	RegistryImageName = "registry:3"

	// RegistryContainerPort is the port the registry listens on inside the
	// container.
	RegistryContainerPort nat.Port = "5000/tcp"

	// RegistryHostIP binds published ports to loopback only.
	RegistryHostIP = "127.0.0.1"

	// RegistryDataPath is the image storage path inside the container.
	RegistryDataPath = "/var/lib/registry"

	// RegistryLabelKey marks containers managed by this tool.
	RegistryLabelKey = "io.buildforge.kindenv"
)

// Errors for registry container operations.
var (
	// ErrRegistryNotFound is returned when no registry container matches the
	// requested name.
	ErrRegistryNotFound = errors.New("registry container not found")

	// ErrNoNetworkSettings is returned when a container has no network
	// configuration.
	ErrNoNetworkSettings = errors.New("container has no network settings")

	// ErrNotConnectedToNetwork is returned when a container is not attached to
	// the requested network.
	ErrNotConnectedToNetwork = errors.New("container is not connected to network")

	// ErrNoIPAddress is returned when a container has no IP address on the
	// requested network.
	ErrNoIPAddress = errors.New("container has no IP address on network")
)

// RegistryConfig describes the local registry container. The registry is
// published on two host ports mapping to the same container port: HostPort for
// direct pushes from the host, and PlatformPort matching the port the platform
// registry hostname carries, so that hostname works from the host once it
// resolves to loopback.
type RegistryConfig struct {
	Name         string
	HostPort     int
	PlatformPort int
	VolumeName   string
}

// RegistryManager manages the local registry container.
type RegistryManager struct {
	client client.APIClient
}

// NewRegistryManager creates a registry manager backed by the given client.
func NewRegistryManager(dockerClient client.APIClient) *RegistryManager {
	return &RegistryManager{client: dockerClient}
}

// EnsureRegistry creates and starts the registry container if it does not
// exist. An existing container is reused regardless of its port layout, and
// started if stopped. The operation is idempotent.
func (rm *RegistryManager) EnsureRegistry(ctx context.Context, config RegistryConfig) error {
	existing, err := rm.findContainer(ctx, config.Name)
	if err != nil {
		return err
	}

	if existing != nil {
		if !strings.EqualFold(existing.State, "running") {
			startErr := rm.client.ContainerStart(ctx, existing.ID, container.StartOptions{})
			if startErr != nil {
				return fmt.Errorf("failed to start existing registry container: %w", startErr)
			}
		}

		return nil
	}

	err = rm.ensureRegistryImage(ctx)
	if err != nil {
		return err
	}

	volumeName := config.VolumeName
	if volumeName == "" {
		volumeName = config.Name
	}

	err = rm.ensureVolume(ctx, volumeName)
	if err != nil {
		return err
	}

	return rm.createAndStartContainer(ctx, config, volumeName)
}

// ConnectToNetwork attaches the registry container to the given network so
// cluster nodes can reach it by IP. Attaching twice is a no-op.
func (rm *RegistryManager) ConnectToNetwork(
	ctx context.Context,
	name string,
	networkName string,
) error {
	inspect, err := rm.client.ContainerInspect(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to inspect registry container %s: %w", name, err)
	}

	if inspect.NetworkSettings != nil {
		if _, connected := inspect.NetworkSettings.Networks[networkName]; connected {
			return nil
		}
	}

	err = rm.client.NetworkConnect(ctx, networkName, name, &network.EndpointSettings{})
	if err != nil {
		return fmt.Errorf(
			"failed to connect registry %s to network %s: %w", name, networkName, err,
		)
	}

	return nil
}

// ContainerIPOnNetwork returns the registry container's IP address on the
// given network. Pods resolve the platform registry hostname to this address,
// since Docker DNS names are not resolvable from cluster CoreDNS.
func (rm *RegistryManager) ContainerIPOnNetwork(
	ctx context.Context,
	name string,
	networkName string,
) (string, error) {
	inspect, err := rm.client.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	if inspect.NetworkSettings == nil || inspect.NetworkSettings.Networks == nil {
		return "", fmt.Errorf("%w: %s", ErrNoNetworkSettings, name)
	}

	endpoint, ok := inspect.NetworkSettings.Networks[networkName]
	if !ok {
		return "", fmt.Errorf("%w: container %s, network %s", ErrNotConnectedToNetwork, name, networkName)
	}

	if endpoint.IPAddress == "" {
		return "", fmt.Errorf("%w: container %s, network %s", ErrNoIPAddress, name, networkName)
	}

	return endpoint.IPAddress, nil
}

// RemoveRegistry stops and removes the registry container and its data
// volume. A missing container is not an error.
func (rm *RegistryManager) RemoveRegistry(ctx context.Context, name string) error {
	existing, err := rm.findContainer(ctx, name)
	if err != nil {
		return err
	}

	if existing == nil {
		return nil
	}

	volumeName := rm.dataVolumeName(ctx, existing.ID)

	if strings.EqualFold(existing.State, "running") {
		stopErr := rm.client.ContainerStop(ctx, existing.ID, container.StopOptions{})
		if stopErr != nil {
			return fmt.Errorf("failed to stop registry container: %w", stopErr)
		}
	}

	err = rm.client.ContainerRemove(ctx, existing.ID, container.RemoveOptions{})
	if err != nil {
		return fmt.Errorf("failed to remove registry container: %w", err)
	}

	if volumeName != "" {
		_ = rm.client.VolumeRemove(ctx, volumeName, false)
	}

	return nil
}

// findContainer looks up the registry container by exact name.
func (rm *RegistryManager) findContainer(
	ctx context.Context,
	name string,
) (*container.Summary, error) {
	filterArgs := filters.NewArgs()
	// Anchored match avoids partial name collisions.
	filterArgs.Add("name", "^/"+name+"$")

	containers, err := rm.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list registry containers: %w", err)
	}

	if len(containers) == 0 {
		return nil, nil
	}

	return &containers[0], nil
}

// ensureRegistryImage pulls the registry image if not already present locally.
func (rm *RegistryManager) ensureRegistryImage(ctx context.Context) error {
	_, err := rm.client.ImageInspect(ctx, RegistryImageName)
	if err == nil {
		return nil
	}

	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect registry image: %w", err)
	}

	reader, err := rm.client.ImagePull(ctx, RegistryImageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull registry image: %w", err)
	}

	_, err = io.Copy(io.Discard, reader)
	closeErr := reader.Close()

	if err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close image pull reader: %w", closeErr)
	}

	return nil
}

// ensureVolume creates the registry data volume if it does not exist.
func (rm *RegistryManager) ensureVolume(ctx context.Context, volumeName string) error {
	_, err := rm.client.VolumeInspect(ctx, volumeName)
	if err == nil {
		return nil
	}

	_, err = rm.client.VolumeCreate(ctx, volume.CreateOptions{Name: volumeName})
	if err != nil {
		return fmt.Errorf("failed to create registry volume: %w", err)
	}

	return nil
}

// createAndStartContainer creates and starts the registry container with both
// host port bindings pointing at the registry port.
func (rm *RegistryManager) createAndStartContainer(
	ctx context.Context,
	config RegistryConfig,
	volumeName string,
) error {
	containerConfig := &container.Config{
		Image: RegistryImageName,
		ExposedPorts: nat.PortSet{
			RegistryContainerPort: struct{}{},
		},
		Labels: map[string]string{RegistryLabelKey: config.Name},
	}

	hostConfig := &container.HostConfig{
		PortBindings: rm.buildPortBindings(config),
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyAlways,
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: volumeName,
				Target: RegistryDataPath,
			},
		},
	}

	resp, err := rm.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, config.Name)
	if err != nil {
		return fmt.Errorf("failed to create registry container: %w", err)
	}

	err = rm.client.ContainerStart(ctx, resp.ID, container.StartOptions{})
	if err != nil {
		return fmt.Errorf("failed to start registry container: %w", err)
	}

	return nil
}

// buildPortBindings publishes the registry port on both configured host ports.
func (rm *RegistryManager) buildPortBindings(config RegistryConfig) nat.PortMap {
	bindings := make([]nat.PortBinding, 0, 2)

	for _, port := range []int{config.HostPort, config.PlatformPort} {
		if port <= 0 {
			continue
		}

		bindings = append(bindings, nat.PortBinding{
			HostIP:   RegistryHostIP,
			HostPort: strconv.Itoa(port),
		})
	}

	return nat.PortMap{RegistryContainerPort: bindings}
}

// dataVolumeName resolves the volume mounted at the registry data path.
func (rm *RegistryManager) dataVolumeName(ctx context.Context, containerID string) string {
	inspect, err := rm.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return ""
	}

	for _, containerMount := range inspect.Mounts {
		if containerMount.Destination == RegistryDataPath {
			return containerMount.Name
		}
	}

	return ""
}
