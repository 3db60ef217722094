// Package tektoninstaller installs Tekton Pipelines from its released
// manifest bundle.
package tektoninstaller

import (
	"context"
	"fmt"
	"time"

	"github.com/buildforge/kindenv/pkg/client/kubectl"
	"github.com/buildforge/kindenv/pkg/k8s/readiness"
	"github.com/buildforge/kindenv/pkg/runner"
	"github.com/buildforge/kindenv/pkg/svc/installer"
	"k8s.io/client-go/kubernetes"
)

const (
	tektonNamespace      = "tekton-pipelines"
	controllerDeployment = "tekton-pipelines-controller"
	webhookDeployment    = "tekton-pipelines-webhook"
)

// TektonInstaller applies the Tekton Pipelines release manifest and waits for
// the controller and webhook deployments to become ready. It implements
// installer.Installer.
type TektonInstaller struct {
	kubectlClient *kubectl.Client
	cmdRunner     runner.CommandRunner
	clientset     kubernetes.Interface
	kubeconfig    string
	releaseURL    string
	interval      time.Duration
	timeout       time.Duration
}

var _ installer.Installer = (*TektonInstaller)(nil)

// NewTektonInstaller creates a Tekton installer applying releaseURL against
// the cluster reachable through kubeconfig. A zero timeout falls back to
// installer.DefaultInstallTimeout.
func NewTektonInstaller(
	kubectlClient *kubectl.Client,
	cmdRunner runner.CommandRunner,
	clientset kubernetes.Interface,
	kubeconfig string,
	releaseURL string,
	interval time.Duration,
	timeout time.Duration,
) *TektonInstaller {
	if timeout == 0 {
		timeout = installer.DefaultInstallTimeout
	}

	return &TektonInstaller{
		kubectlClient: kubectlClient,
		cmdRunner:     cmdRunner,
		clientset:     clientset,
		kubeconfig:    kubeconfig,
		releaseURL:    releaseURL,
		interval:      interval,
		timeout:       timeout,
	}
}

// Install applies the release manifest and waits for the Tekton control plane
// deployments. Server-side apply is required because the release bundle
// carries CRDs too large for the last-applied-configuration annotation.
func (t *TektonInstaller) Install(ctx context.Context) error {
	applyCmd := t.kubectlClient.CreateApplyCommand(t.kubeconfig)

	_, err := t.cmdRunner.Run(ctx, applyCmd, []string{"--server-side", "-f", t.releaseURL})
	if err != nil {
		return fmt.Errorf("failed to apply tekton release manifest: %w", err)
	}

	err = readiness.WaitForDeploymentsReady(
		ctx,
		t.clientset,
		tektonNamespace,
		[]string{controllerDeployment, webhookDeployment},
		t.interval,
		t.timeout,
	)
	if err != nil {
		return fmt.Errorf("failed to wait for tekton deployments: %w", err)
	}

	return nil
}

// Uninstall deletes everything the release manifest created.
func (t *TektonInstaller) Uninstall(ctx context.Context) error {
	deleteCmd := t.kubectlClient.CreateDeleteCommand(t.kubeconfig)

	_, err := t.cmdRunner.Run(ctx, deleteCmd, []string{"--ignore-not-found", "-f", t.releaseURL})
	if err != nil {
		return fmt.Errorf("failed to delete tekton release manifest: %w", err)
	}

	return nil
}
