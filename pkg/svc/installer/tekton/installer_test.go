package tektoninstaller_test

import (
	"context"
	"testing"
	"time"

	"github.com/buildforge/kindenv/pkg/client/kubectl"
	"github.com/buildforge/kindenv/pkg/runner"
	tektoninstaller "github.com/buildforge/kindenv/pkg/svc/installer/tekton"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/cli-runtime/pkg/genericiooptions"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
)

const releaseURL = "https://storage.googleapis.com/tekton-releases/pipeline/latest/release.yaml"

type recordingRunner struct {
	commands []string
	args     [][]string
	err      error
}

func (r *recordingRunner) Run(
	_ context.Context,
	cmd *cobra.Command,
	args []string,
) (runner.CommandResult, error) {
	r.commands = append(r.commands, cmd.Name())
	r.args = append(r.args, args)

	return runner.CommandResult{}, r.err
}

func readyDeployment(namespace, name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Namespace:  namespace,
			Generation: 1,
		},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 1,
			UpdatedReplicas:    1,
			AvailableReplicas:  1,
		},
	}
}

func newInstaller(
	cmdRunner runner.CommandRunner,
	clientset kubernetes.Interface,
) *tektoninstaller.TektonInstaller {
	kubectlClient := kubectl.NewClient(genericiooptions.NewTestIOStreamsDiscard())

	return tektoninstaller.NewTektonInstaller(
		kubectlClient,
		cmdRunner,
		clientset,
		"/tmp/kubeconfig",
		releaseURL,
		10*time.Millisecond,
		time.Second,
	)
}

func TestInstallAppliesManifestAndWaits(t *testing.T) {
	t.Parallel()

	cmdRunner := &recordingRunner{}
	clientset := fake.NewClientset(
		readyDeployment("tekton-pipelines", "tekton-pipelines-controller"),
		readyDeployment("tekton-pipelines", "tekton-pipelines-webhook"),
	)

	err := newInstaller(cmdRunner, clientset).Install(t.Context())

	require.NoError(t, err)
	require.Len(t, cmdRunner.commands, 1)
	assert.Equal(t, "apply", cmdRunner.commands[0])
	assert.Contains(t, cmdRunner.args[0], "--server-side")
	assert.Contains(t, cmdRunner.args[0], releaseURL)
}

func TestInstallApplyError(t *testing.T) {
	t.Parallel()

	cmdRunner := &recordingRunner{err: assert.AnError}

	err := newInstaller(cmdRunner, fake.NewClientset()).Install(t.Context())

	require.Error(t, err)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to apply tekton release manifest")
}

func TestInstallTimesOutWhenDeploymentsNeverReady(t *testing.T) {
	t.Parallel()

	cmdRunner := &recordingRunner{}

	err := newInstaller(cmdRunner, fake.NewClientset()).Install(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to wait for tekton deployments")
}

func TestUninstallDeletesManifest(t *testing.T) {
	t.Parallel()

	cmdRunner := &recordingRunner{}

	err := newInstaller(cmdRunner, fake.NewClientset()).Uninstall(t.Context())

	require.NoError(t, err)
	require.Len(t, cmdRunner.commands, 1)
	assert.Equal(t, "delete", cmdRunner.commands[0])
	assert.Contains(t, cmdRunner.args[0], releaseURL)
}
