package kindprovisioner_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/buildforge/kindenv/pkg/runner"
	kindprovisioner "github.com/buildforge/kindenv/pkg/svc/provisioner/cluster/kind"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRunnerBoom = errors.New("runner boom")

// fakeRunner records executed commands and returns canned results per command
// name.
type fakeRunner struct {
	commands []string
	args     [][]string
	results  map[string]runner.CommandResult
	errs     map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: map[string]runner.CommandResult{},
		errs:    map[string]error{},
	}
}

func (f *fakeRunner) Run(
	_ context.Context,
	cmd *cobra.Command,
	args []string,
) (runner.CommandResult, error) {
	name := cmd.Name()
	f.commands = append(f.commands, name)
	f.args = append(f.args, args)

	return f.results[name], f.errs[name]
}

func newTestProvisioner(fake *fakeRunner) *kindprovisioner.Provisioner {
	return kindprovisioner.NewProvisionerWithRunner(
		"forge-e2e",
		"/tmp/forge-e2e-kubeconfig",
		fake,
		&bytes.Buffer{},
		&bytes.Buffer{},
	)
}

func TestListParsesClusterNames(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: "forge-e2e\nother\n"}

	clusters, err := newTestProvisioner(fake).List(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"forge-e2e", "other"}, clusters)
}

func TestListIgnoresNoClustersMessage(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: "No kind clusters found.\n"}

	clusters, err := newTestProvisioner(fake).List(context.Background())

	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestExists(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: "forge-e2e\n"}

	exists, err := newTestProvisioner(fake).Exists(context.Background())

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateFreshCluster(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: ""}

	err := newTestProvisioner(fake).Create(context.Background())

	require.NoError(t, err)
	require.Equal(t, []string{"clusters", "cluster"}, fake.commands)

	createArgs := fake.args[1]
	assert.Contains(t, createArgs, "--name")
	assert.Contains(t, createArgs, "forge-e2e")
	assert.Contains(t, createArgs, "--config")
	assert.Contains(t, createArgs, "--kubeconfig")
}

func TestCreateDeletesExistingClusterFirst(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: "forge-e2e\n"}

	err := newTestProvisioner(fake).Create(context.Background())

	require.NoError(t, err)
	// exists check, delete's exists check, delete, create
	require.Len(t, fake.commands, 4)
	assert.Equal(t, "cluster", fake.commands[2])
	assert.Equal(t, "cluster", fake.commands[3])
}

func TestDeleteMissingCluster(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: ""}

	err := newTestProvisioner(fake).Delete(context.Background())

	require.ErrorIs(t, err, kindprovisioner.ErrClusterNotFound)
}

func TestDeleteExistingCluster(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.results["clusters"] = runner.CommandResult{Stdout: "forge-e2e\n"}

	err := newTestProvisioner(fake).Delete(context.Background())

	require.NoError(t, err)

	deleteArgs := fake.args[len(fake.args)-1]
	assert.Contains(t, deleteArgs, "--name")
	assert.Contains(t, deleteArgs, "--kubeconfig")
}

func TestListRunnerError(t *testing.T) {
	t.Parallel()

	fake := newFakeRunner()
	fake.errs["clusters"] = errRunnerBoom

	_, err := newTestProvisioner(fake).List(context.Background())

	require.ErrorIs(t, err, errRunnerBoom)
}

func TestKubeContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "kind-forge-e2e", newTestProvisioner(newFakeRunner()).KubeContext())
}
