package registryprovisioner_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/buildforge/kindenv/pkg/client/docker"
	registryprovisioner "github.com/buildforge/kindenv/pkg/svc/provisioner/registry"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registryStub implements the container slice of the Docker API used by the
// provisioner. Unimplemented methods panic via the embedded interface.
type registryStub struct {
	client.APIClient

	state       string
	networks    map[string]*network.EndpointSettings
	connected   []string
	ipAfterPoll int
	polls       int
}

func (s *registryStub) ContainerList(
	_ context.Context,
	_ container.ListOptions,
) ([]container.Summary, error) {
	if s.state == "" {
		return nil, nil
	}

	return []container.Summary{
		{ID: "reg-id", Names: []string{"/forge-registry"}, State: s.state},
	}, nil
}

func (s *registryStub) ContainerStart(
	_ context.Context, _ string, _ container.StartOptions,
) error {
	s.state = "running"

	return nil
}

func (s *registryStub) ContainerInspect(
	_ context.Context,
	_ string,
) (container.InspectResponse, error) {
	s.polls++

	networks := s.networks
	if s.polls <= s.ipAfterPoll {
		networks = map[string]*network.EndpointSettings{}
	}

	return container.InspectResponse{
		NetworkSettings: &container.NetworkSettings{Networks: networks},
	}, nil
}

func (s *registryStub) NetworkConnect(
	_ context.Context,
	networkName, containerName string,
	_ *network.EndpointSettings,
) error {
	s.connected = append(s.connected, networkName+"/"+containerName)

	return nil
}

// startFakeRegistry serves the registry v2 health endpoint on 127.0.0.1 and
// returns the bound port.
func startFakeRegistry(t *testing.T) int {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/" {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	_, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return port
}

func TestEnsureWaitsForHealthEndpoint(t *testing.T) {
	t.Parallel()

	port := startFakeRegistry(t)

	stub := &registryStub{state: "running"}
	provisioner := registryprovisioner.NewProvisioner(stub, docker.RegistryConfig{
		Name:     "forge-registry",
		HostPort: port,
	})

	err := provisioner.Ensure(context.Background())

	require.NoError(t, err)
}

func TestEnsureFailsWhenRegistryNeverAnswers(t *testing.T) {
	t.Parallel()

	// Nothing listens on this port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	stub := &registryStub{state: "running"}
	provisioner := registryprovisioner.NewProvisioner(stub, docker.RegistryConfig{
		Name:     "forge-registry",
		HostPort: port,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = provisioner.Ensure(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
}

func TestJoinNetworkResolvesIPAfterConnect(t *testing.T) {
	t.Parallel()

	stub := &registryStub{
		state: "running",
		networks: map[string]*network.EndpointSettings{
			"kind": {IPAddress: "172.18.0.5"},
		},
		ipAfterPoll: 1,
	}
	provisioner := registryprovisioner.NewProvisioner(stub, docker.RegistryConfig{
		Name: "forge-registry",
	})

	ip, err := provisioner.JoinNetwork(
		context.Background(), "kind", 10*time.Millisecond, time.Second,
	)

	require.NoError(t, err)
	assert.Equal(t, "172.18.0.5", ip)
	assert.Equal(t, []string{"kind/forge-registry"}, stub.connected)
}

func TestJoinNetworkTimesOutWithoutIP(t *testing.T) {
	t.Parallel()

	stub := &registryStub{
		state:       "running",
		networks:    map[string]*network.EndpointSettings{"kind": {}},
		ipAfterPoll: 0,
	}
	provisioner := registryprovisioner.NewProvisioner(stub, docker.RegistryConfig{
		Name: "forge-registry",
	})

	_, err := provisioner.JoinNetwork(
		context.Background(), "kind", 10*time.Millisecond, 50*time.Millisecond,
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("network %s", "kind"))
}
