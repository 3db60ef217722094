// Package registryprovisioner manages the local registry container that backs
// image pushes for the test environment.
package registryprovisioner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/buildforge/kindenv/pkg/client/docker"
	"github.com/buildforge/kindenv/pkg/k8s/readiness"
	dockerclient "github.com/docker/docker/client"
)

// readyTimeout bounds the wait for the registry to answer its health endpoint
// after the container starts.
const readyTimeout = 30 * time.Second

// Provisioner provisions the dual-port local registry.
type Provisioner struct {
	manager *docker.RegistryManager
	config  docker.RegistryConfig
}

// NewProvisioner creates a registry provisioner for the given registry layout.
func NewProvisioner(apiClient dockerclient.APIClient, config docker.RegistryConfig) *Provisioner {
	return &Provisioner{
		manager: docker.NewRegistryManager(apiClient),
		config:  config,
	}
}

// Ensure creates or reuses the registry container and waits until its v2 API
// answers on the direct host port.
func (p *Provisioner) Ensure(ctx context.Context) error {
	err := p.manager.EnsureRegistry(ctx, p.config)
	if err != nil {
		return fmt.Errorf("failed to ensure registry %s: %w", p.config.Name, err)
	}

	err = p.waitReady(ctx)
	if err != nil {
		return fmt.Errorf("registry %s did not become ready: %w", p.config.Name, err)
	}

	return nil
}

// JoinNetwork attaches the registry to the cluster network and returns its IP
// address on that network.
func (p *Provisioner) JoinNetwork(
	ctx context.Context,
	networkName string,
	interval time.Duration,
	deadline time.Duration,
) (string, error) {
	err := p.manager.ConnectToNetwork(ctx, p.config.Name, networkName)
	if err != nil {
		return "", err
	}

	var registryIP string

	// The address can lag the connect call briefly.
	err = readiness.PollForReadinessEvery(ctx, interval, deadline,
		func(ctx context.Context) (bool, error) {
			ip, ipErr := p.manager.ContainerIPOnNetwork(ctx, p.config.Name, networkName)
			if ipErr != nil {
				return false, nil //nolint:nilerr // returning nil to continue polling
			}

			registryIP = ip

			return true, nil
		})
	if err != nil {
		return "", fmt.Errorf(
			"failed to resolve registry IP on network %s: %w", networkName, err,
		)
	}

	return registryIP, nil
}

// Remove stops and deletes the registry container and its volume.
func (p *Provisioner) Remove(ctx context.Context) error {
	return p.manager.RemoveRegistry(ctx, p.config.Name)
}

// waitReady polls the registry health endpoint on the host port. The registry
// v2 API returns 200, or 401 when auth is required, on /v2/.
func (p *Provisioner) waitReady(ctx context.Context) error {
	checkURL := fmt.Sprintf("http://127.0.0.1:%d/v2/", p.config.HostPort)
	httpClient := &http.Client{}

	return readiness.PollForReadinessEvery(ctx, time.Second, readyTimeout,
		func(ctx context.Context) (bool, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
			if reqErr != nil {
				return false, fmt.Errorf("failed to build health check request: %w", reqErr)
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return false, nil //nolint:nilerr // returning nil to continue polling
			}

			_ = resp.Body.Close()

			return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized, nil
		})
}
