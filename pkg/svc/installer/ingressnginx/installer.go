// Package ingressnginxinstaller installs the ingress-nginx controller via its
// Helm chart.
package ingressnginxinstaller

import (
	"context"
	"fmt"
	"time"

	"github.com/buildforge/kindenv/pkg/client/helm"
	"github.com/buildforge/kindenv/pkg/svc/installer"
)

const (
	ingressRepoName  = "ingress-nginx"
	ingressRepoURL   = "https://kubernetes.github.io/ingress-nginx"
	ingressRelease   = "ingress-nginx"
	ingressNamespace = "ingress-nginx"
	ingressChartName = "ingress-nginx/ingress-nginx"
)

// Chart values pinning the controller to the control-plane node and binding
// it to the host ports kind maps. Webhook admission stays on so Ingress
// objects are validated like they would be on a managed cluster.
const ingressValues = `controller:
  hostPort:
    enabled: true
  nodeSelector:
    kubernetes.io/os: linux
  tolerations:
    - key: node-role.kubernetes.io/control-plane
      operator: Exists
      effect: NoSchedule
  watchIngressWithoutClass: true
`

// IngressNginxInstaller installs or upgrades ingress-nginx. It implements
// installer.Installer.
type IngressNginxInstaller struct {
	client  helm.Interface
	timeout time.Duration
}

var _ installer.Installer = (*IngressNginxInstaller)(nil)

// NewIngressNginxInstaller creates a new ingress-nginx installer instance. A
// zero timeout falls back to installer.DefaultInstallTimeout.
func NewIngressNginxInstaller(client helm.Interface, timeout time.Duration) *IngressNginxInstaller {
	if timeout == 0 {
		timeout = installer.DefaultInstallTimeout
	}

	return &IngressNginxInstaller{
		client:  client,
		timeout: timeout,
	}
}

// Install installs or upgrades ingress-nginx via its Helm chart and waits for
// the controller to become ready.
func (i *IngressNginxInstaller) Install(ctx context.Context) error {
	repoEntry := &helm.RepositoryEntry{Name: ingressRepoName, URL: ingressRepoURL}

	err := i.client.AddRepository(ctx, repoEntry)
	if err != nil {
		return fmt.Errorf("failed to add ingress-nginx repository: %w", err)
	}

	spec := &helm.ChartSpec{
		ReleaseName:     ingressRelease,
		ChartName:       ingressChartName,
		Namespace:       ingressNamespace,
		RepoURL:         ingressRepoURL,
		CreateNamespace: true,
		Wait:            true,
		Timeout:         i.timeout,
		ValuesYaml:      ingressValues,
	}

	_, err = i.client.InstallOrUpgradeChart(ctx, spec)
	if err != nil {
		return fmt.Errorf("failed to install ingress-nginx chart: %w", err)
	}

	return nil
}

// Uninstall removes the Helm release for ingress-nginx.
func (i *IngressNginxInstaller) Uninstall(ctx context.Context) error {
	err := i.client.UninstallRelease(ctx, ingressRelease, ingressNamespace)
	if err != nil {
		return fmt.Errorf("failed to uninstall ingress-nginx release: %w", err)
	}

	return nil
}
