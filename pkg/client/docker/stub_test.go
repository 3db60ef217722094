package docker_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// stubAPIClient implements the slice of the Docker API the registry manager
// and executor touch. Unimplemented methods panic via the embedded interface.
type stubAPIClient struct {
	client.APIClient

	containerListFn    func(container.ListOptions) ([]container.Summary, error)
	containerInspectFn func(string) (container.InspectResponse, error)
	containerCreateFn  func(*container.Config, *container.HostConfig, string) (container.CreateResponse, error)
	containerStartFn   func(string) error
	containerStopFn    func(string) error
	containerRemoveFn  func(string) error
	networkConnectFn   func(networkName, containerName string) error
	imageInspectFn     func(string) (image.InspectResponse, error)
	imagePullFn        func(string) (io.ReadCloser, error)
	volumeInspectFn    func(string) (volume.Volume, error)
	volumeCreateFn     func(volume.CreateOptions) (volume.Volume, error)
	volumeRemoveFn     func(string) error
	execCreateFn       func(string, container.ExecOptions) (container.ExecCreateResponse, error)
	execAttachFn       func(string) (dockertypes.HijackedResponse, error)
	execInspectFn      func(string) (container.ExecInspect, error)
}

func (s *stubAPIClient) ContainerList(
	_ context.Context,
	opts container.ListOptions,
) ([]container.Summary, error) {
	return s.containerListFn(opts)
}

func (s *stubAPIClient) ContainerInspect(
	_ context.Context,
	name string,
) (container.InspectResponse, error) {
	return s.containerInspectFn(name)
}

func (s *stubAPIClient) ContainerCreate(
	_ context.Context,
	config *container.Config,
	hostConfig *container.HostConfig,
	_ *network.NetworkingConfig,
	_ *ocispec.Platform,
	name string,
) (container.CreateResponse, error) {
	return s.containerCreateFn(config, hostConfig, name)
}

func (s *stubAPIClient) ContainerStart(
	_ context.Context,
	id string,
	_ container.StartOptions,
) error {
	return s.containerStartFn(id)
}

func (s *stubAPIClient) ContainerStop(
	_ context.Context,
	id string,
	_ container.StopOptions,
) error {
	return s.containerStopFn(id)
}

func (s *stubAPIClient) ContainerRemove(
	_ context.Context,
	id string,
	_ container.RemoveOptions,
) error {
	return s.containerRemoveFn(id)
}

func (s *stubAPIClient) NetworkConnect(
	_ context.Context,
	networkName, containerName string,
	_ *network.EndpointSettings,
) error {
	return s.networkConnectFn(networkName, containerName)
}

func (s *stubAPIClient) ImageInspect(
	_ context.Context,
	name string,
	_ ...client.ImageInspectOption,
) (image.InspectResponse, error) {
	return s.imageInspectFn(name)
}

func (s *stubAPIClient) ImagePull(
	_ context.Context,
	ref string,
	_ image.PullOptions,
) (io.ReadCloser, error) {
	return s.imagePullFn(ref)
}

func (s *stubAPIClient) VolumeInspect(_ context.Context, name string) (volume.Volume, error) {
	return s.volumeInspectFn(name)
}

func (s *stubAPIClient) VolumeCreate(
	_ context.Context,
	opts volume.CreateOptions,
) (volume.Volume, error) {
	return s.volumeCreateFn(opts)
}

func (s *stubAPIClient) VolumeRemove(_ context.Context, name string, _ bool) error {
	return s.volumeRemoveFn(name)
}

func (s *stubAPIClient) ContainerExecCreate(
	_ context.Context,
	name string,
	opts container.ExecOptions,
) (container.ExecCreateResponse, error) {
	return s.execCreateFn(name, opts)
}

func (s *stubAPIClient) ContainerExecAttach(
	_ context.Context,
	execID string,
	_ container.ExecStartOptions,
) (dockertypes.HijackedResponse, error) {
	return s.execAttachFn(execID)
}

func (s *stubAPIClient) ContainerExecInspect(
	_ context.Context,
	execID string,
) (container.ExecInspect, error) {
	return s.execInspectFn(execID)
}

// stubConn is a minimal net.Conn for hijacked exec streams.
type stubConn struct{}

func (c *stubConn) Read(_ []byte) (int, error)         { return 0, io.EOF }
func (c *stubConn) Write(b []byte) (int, error)        { return len(b), nil }
func (c *stubConn) Close() error                       { return nil }
func (c *stubConn) LocalAddr() net.Addr                { return nil }
func (c *stubConn) RemoteAddr() net.Addr               { return nil }
func (c *stubConn) SetDeadline(_ time.Time) error      { return nil }
func (c *stubConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *stubConn) SetWriteDeadline(_ time.Time) error { return nil }

// execStreamResponse wraps stdout and stderr in the multiplexed stream format
// used by exec attach: an 8-byte header (stream type, reserved, big-endian
// payload size) before each payload.
func execStreamResponse(stdout, stderr string) dockertypes.HijackedResponse {
	var data []byte

	appendFrame := func(streamType byte, payload string) {
		if payload == "" {
			return
		}

		header := make([]byte, 8)
		header[0] = streamType
		header[4] = byte(len(payload) >> 24)
		header[5] = byte(len(payload) >> 16)
		header[6] = byte(len(payload) >> 8)
		header[7] = byte(len(payload))
		data = append(data, header...)
		data = append(data, payload...)
	}

	appendFrame(1, stdout)
	appendFrame(2, stderr)

	return dockertypes.HijackedResponse{
		Conn:   &stubConn{},
		Reader: bufio.NewReader(strings.NewReader(string(data))),
	}
}
