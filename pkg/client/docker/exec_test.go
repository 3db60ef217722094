package docker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/buildforge/kindenv/pkg/client/docker"
	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecReturnsStdout(t *testing.T) {
	t.Parallel()

	stub := &stubAPIClient{
		execCreateFn: func(name string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
			assert.Equal(t, "forge-e2e-control-plane", name)
			assert.True(t, opts.AttachStdout)
			assert.True(t, opts.AttachStderr)
			assert.False(t, opts.AttachStdin)

			return container.ExecCreateResponse{ID: "exec-1"}, nil
		},
		execAttachFn: func(execID string) (dockertypes.HijackedResponse, error) {
			assert.Equal(t, "exec-1", execID)

			return execStreamResponse("ok\n", ""), nil
		},
		execInspectFn: func(string) (container.ExecInspect, error) {
			return container.ExecInspect{ExitCode: 0}, nil
		},
	}

	executor := docker.NewContainerExecutor(stub)
	out, err := executor.Exec(
		context.Background(), "forge-e2e-control-plane", []string{"true"}, nil,
	)

	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestExecAttachesStdinWhenProvided(t *testing.T) {
	t.Parallel()

	stub := &stubAPIClient{
		execCreateFn: func(_ string, opts container.ExecOptions) (container.ExecCreateResponse, error) {
			assert.True(t, opts.AttachStdin)

			return container.ExecCreateResponse{ID: "exec-2"}, nil
		},
		execAttachFn: func(string) (dockertypes.HijackedResponse, error) {
			return execStreamResponse("", ""), nil
		},
		execInspectFn: func(string) (container.ExecInspect, error) {
			return container.ExecInspect{ExitCode: 0}, nil
		},
	}

	executor := docker.NewContainerExecutor(stub)
	_, err := executor.Exec(
		context.Background(),
		"forge-e2e-control-plane",
		[]string{"cp", "/dev/stdin", "/etc/containerd/certs.d/hosts.toml"},
		[]byte("[host]\n"),
	)

	require.NoError(t, err)
}

func TestExecNonZeroExitIncludesStderr(t *testing.T) {
	t.Parallel()

	stub := &stubAPIClient{
		execCreateFn: func(string, container.ExecOptions) (container.ExecCreateResponse, error) {
			return container.ExecCreateResponse{ID: "exec-3"}, nil
		},
		execAttachFn: func(string) (dockertypes.HijackedResponse, error) {
			return execStreamResponse("", "no such file\n"), nil
		},
		execInspectFn: func(string) (container.ExecInspect, error) {
			return container.ExecInspect{ExitCode: 1}, nil
		},
	}

	executor := docker.NewContainerExecutor(stub)
	_, err := executor.Exec(context.Background(), "node", []string{"cat", "/missing"}, nil)

	require.ErrorIs(t, err, docker.ErrExecFailed)
	assert.Contains(t, err.Error(), "no such file")
}

func TestExecCreateFailure(t *testing.T) {
	t.Parallel()

	errCreate := errors.New("exec create failed")

	stub := &stubAPIClient{
		execCreateFn: func(string, container.ExecOptions) (container.ExecCreateResponse, error) {
			return container.ExecCreateResponse{}, errCreate
		},
	}

	executor := docker.NewContainerExecutor(stub)
	_, err := executor.Exec(context.Background(), "node", []string{"true"}, nil)

	require.ErrorIs(t, err, errCreate)
}
