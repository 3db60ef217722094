package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ErrExecFailed is returned when a command inside a container exits non-zero.
var ErrExecFailed = errors.New("container exec failed")

// ContainerExecutor runs commands inside cluster node containers, for node
// level configuration that has no Kubernetes API (containerd registry hosts).
type ContainerExecutor struct {
	dockerClient client.APIClient
}

// NewContainerExecutor creates a new container executor.
func NewContainerExecutor(dockerClient client.APIClient) *ContainerExecutor {
	return &ContainerExecutor{dockerClient: dockerClient}
}

// Exec executes a command inside a container and returns its stdout. Stdin, if
// non-empty, is streamed to the command.
func (e *ContainerExecutor) Exec(
	ctx context.Context,
	containerName string,
	cmd []string,
	stdin []byte,
) (string, error) {
	execConfig := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  len(stdin) > 0,
	}

	execID, err := e.dockerClient.ContainerExecCreate(ctx, containerName, execConfig)
	if err != nil {
		return "", fmt.Errorf("failed to create exec in %s: %w", containerName, err)
	}

	resp, err := e.dockerClient.ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach to exec in %s: %w", containerName, err)
	}
	defer resp.Close()

	if len(stdin) > 0 {
		_, writeErr := resp.Conn.Write(stdin)
		if writeErr != nil {
			return "", fmt.Errorf("failed to write exec stdin: %w", writeErr)
		}

		_ = resp.CloseWrite()
	}

	var stdout, stderr bytes.Buffer

	_, _ = stdcopy.StdCopy(&stdout, &stderr, resp.Reader)

	inspectResp, err := e.dockerClient.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect exec: %w", err)
	}

	if inspectResp.ExitCode != 0 {
		return "", fmt.Errorf(
			"%w with exit code %d: %s",
			ErrExecFailed,
			inspectResp.ExitCode,
			stderr.String(),
		)
	}

	return stdout.String(), nil
}
