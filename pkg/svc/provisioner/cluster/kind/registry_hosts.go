package kindprovisioner

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildforge/kindenv/pkg/client/docker"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// kindClusterLabel is the label kind puts on its node containers.
const kindClusterLabel = "io.x-k8s.kind.cluster"

// ConfigureRegistryHosts injects containerd hosts.toml files into every node
// of the cluster, routing each registry host to the given endpoint. This runs
// after the registry joins the cluster network, so the endpoint hostname
// resolves via Docker DNS from the nodes.
func ConfigureRegistryHosts(
	ctx context.Context,
	dockerClient client.APIClient,
	clusterName string,
	registryHosts []string,
	endpoint string,
) error {
	nodes, err := listClusterNodes(ctx, dockerClient, clusterName)
	if err != nil {
		return err
	}

	if len(nodes) == 0 {
		return fmt.Errorf("%w: cluster %s", ErrNoClusterNodes, clusterName)
	}

	executor := docker.NewContainerExecutor(dockerClient)

	for _, host := range registryHosts {
		content := generateHostsToml(endpoint)

		for _, node := range nodes {
			err := injectHostsToml(ctx, executor, node, host, content)
			if err != nil {
				return fmt.Errorf(
					"failed to configure registry host %s on node %s: %w", host, node, err,
				)
			}
		}
	}

	return nil
}

// listClusterNodes returns the container names of the cluster's nodes.
func listClusterNodes(
	ctx context.Context,
	dockerClient client.APIClient,
	clusterName string,
) ([]string, error) {
	containers, err := dockerClient.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster node containers: %w", err)
	}

	var nodes []string

	for _, summary := range containers {
		if summary.Labels[kindClusterLabel] != clusterName {
			continue
		}

		if len(summary.Names) > 0 {
			nodes = append(nodes, strings.TrimPrefix(summary.Names[0], "/"))
		}
	}

	return nodes, nil
}

// generateHostsToml renders a containerd hosts directory entry pointing at the
// plain-HTTP local registry with full pull, resolve and push capabilities.
func generateHostsToml(endpoint string) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("server = %q\n\n", endpoint))
	builder.WriteString(fmt.Sprintf("[host.%q]\n", endpoint))
	builder.WriteString("  capabilities = [\"pull\", \"resolve\", \"push\"]\n")
	builder.WriteString("  skip_verify = true\n")

	return builder.String()
}

// injectHostsToml writes the hosts.toml for a registry host inside a node.
func injectHostsToml(
	ctx context.Context,
	executor *docker.ContainerExecutor,
	nodeName string,
	registryHost string,
	content string,
) error {
	certsDir := "/etc/containerd/certs.d/" + registryHost

	cmd := []string{
		"sh", "-c",
		fmt.Sprintf("mkdir -p %s && cat > %s/hosts.toml", certsDir, certsDir),
	}

	_, err := executor.Exec(ctx, nodeName, cmd, []byte(content))
	if err != nil {
		return err
	}

	return nil
}
