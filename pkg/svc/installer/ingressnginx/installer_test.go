package ingressnginxinstaller_test

import (
	"context"
	"testing"
	"time"

	"github.com/buildforge/kindenv/pkg/client/helm"
	"github.com/buildforge/kindenv/pkg/svc/installer"
	ingressnginxinstaller "github.com/buildforge/kindenv/pkg/svc/installer/ingressnginx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHelm struct {
	addedRepos     []helm.RepositoryEntry
	installedSpecs []helm.ChartSpec
	uninstalled    []string
	addRepoErr     error
	installErr     error
	uninstallErr   error
}

func (f *fakeHelm) InstallOrUpgradeChart(_ context.Context, spec *helm.ChartSpec) (*helm.ReleaseInfo, error) {
	if f.installErr != nil {
		return nil, f.installErr
	}

	f.installedSpecs = append(f.installedSpecs, *spec)

	return &helm.ReleaseInfo{Name: spec.ReleaseName, Namespace: spec.Namespace, Revision: 1}, nil
}

func (f *fakeHelm) UninstallRelease(_ context.Context, releaseName, _ string) error {
	if f.uninstallErr != nil {
		return f.uninstallErr
	}

	f.uninstalled = append(f.uninstalled, releaseName)

	return nil
}

func (f *fakeHelm) AddRepository(_ context.Context, entry *helm.RepositoryEntry) error {
	if f.addRepoErr != nil {
		return f.addRepoErr
	}

	f.addedRepos = append(f.addedRepos, *entry)

	return nil
}

func TestInstallRegistersRepoAndInstallsChart(t *testing.T) {
	t.Parallel()

	client := &fakeHelm{}
	installer := ingressnginxinstaller.NewIngressNginxInstaller(client, 5*time.Minute)

	err := installer.Install(t.Context())

	require.NoError(t, err)

	require.Len(t, client.addedRepos, 1)
	assert.Equal(t, "ingress-nginx", client.addedRepos[0].Name)

	require.Len(t, client.installedSpecs, 1)
	spec := client.installedSpecs[0]
	assert.Equal(t, "ingress-nginx", spec.ReleaseName)
	assert.Equal(t, "ingress-nginx/ingress-nginx", spec.ChartName)
	assert.Equal(t, "ingress-nginx", spec.Namespace)
	assert.True(t, spec.CreateNamespace)
	assert.True(t, spec.Wait)
	assert.Equal(t, 5*time.Minute, spec.Timeout)
	assert.Contains(t, spec.ValuesYaml, "hostPort")
}

func TestInstallAddRepositoryError(t *testing.T) {
	t.Parallel()

	client := &fakeHelm{addRepoErr: assert.AnError}
	installer := ingressnginxinstaller.NewIngressNginxInstaller(client, time.Minute)

	err := installer.Install(t.Context())

	require.Error(t, err)
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to add ingress-nginx repository")
	assert.Empty(t, client.installedSpecs)
}

func TestInstallChartError(t *testing.T) {
	t.Parallel()

	client := &fakeHelm{installErr: assert.AnError}
	installer := ingressnginxinstaller.NewIngressNginxInstaller(client, time.Minute)

	err := installer.Install(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to install ingress-nginx chart")
}

func TestUninstall(t *testing.T) {
	t.Parallel()

	client := &fakeHelm{}
	installer := ingressnginxinstaller.NewIngressNginxInstaller(client, time.Minute)

	err := installer.Uninstall(t.Context())

	require.NoError(t, err)
	assert.Equal(t, []string{"ingress-nginx"}, client.uninstalled)
}

func TestUninstallHelmError(t *testing.T) {
	t.Parallel()

	client := &fakeHelm{uninstallErr: assert.AnError}
	installer := ingressnginxinstaller.NewIngressNginxInstaller(client, time.Minute)

	err := installer.Uninstall(t.Context())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to uninstall ingress-nginx release")
}

func TestZeroTimeoutFallsBackToDefault(t *testing.T) {
	t.Parallel()

	client := &fakeHelm{}
	inst := ingressnginxinstaller.NewIngressNginxInstaller(client, 0)

	err := inst.Install(context.Background())

	require.NoError(t, err)
	require.Len(t, client.installedSpecs, 1)
	assert.Equal(t, installer.DefaultInstallTimeout, client.installedSpecs[0].Timeout)
}
