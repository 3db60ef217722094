// Package helm wraps Helm v4 chart operations behind a small interface so
// installers can be tested against a fake.
package helm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	helmv4action "helm.sh/helm/v4/pkg/action"
	helmv4loader "helm.sh/helm/v4/pkg/chart/loader"
	chartv2 "helm.sh/helm/v4/pkg/chart/v2"
	helmv4cli "helm.sh/helm/v4/pkg/cli"
	helmv4getter "helm.sh/helm/v4/pkg/getter"
	helmv4kube "helm.sh/helm/v4/pkg/kube"
	v1 "helm.sh/helm/v4/pkg/release/v1"
	repov1 "helm.sh/helm/v4/pkg/repo/v1"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultTimeout defines the fallback Helm chart installation timeout.
	DefaultTimeout = 5 * time.Minute

	repoDirMode  = 0o750
	repoFileMode = 0o640
)

var (
	errReleaseNameRequired     = errors.New("helm: release name is required")
	errRepositoryEntryRequired = errors.New("helm: repository entry is required")
	errChartSpecRequired       = errors.New("helm: chart spec is required")
	errRepositoryConfigUnset   = errors.New("helm: repository config path is not set")
	errRepositoryCacheUnset    = errors.New("helm: repository cache path is not set")
)

// ChartSpec describes a chart release to install or upgrade.
type ChartSpec struct {
	ReleaseName string
	ChartName   string
	Namespace   string
	Version     string

	CreateNamespace bool
	Wait            bool
	Timeout         time.Duration

	ValuesYaml string

	RepoURL string
}

// RepositoryEntry describes a Helm repository to register locally before
// chart operations.
type RepositoryEntry struct {
	Name string
	URL  string
}

// ReleaseInfo captures metadata about a Helm release after an operation.
type ReleaseInfo struct {
	Name      string
	Namespace string
	Revision  int
	Status    string
}

// Interface defines the subset of Helm functionality the installers need.
type Interface interface {
	InstallOrUpgradeChart(ctx context.Context, spec *ChartSpec) (*ReleaseInfo, error)
	UninstallRelease(ctx context.Context, releaseName, namespace string) error
	AddRepository(ctx context.Context, entry *RepositoryEntry) error
}

// Client is the default Helm implementation.
type Client struct {
	actionConfig *helmv4action.Configuration
	settings     *helmv4cli.EnvSettings
}

var _ Interface = (*Client)(nil)

// NewClient creates a Helm client using the provided kubeconfig and context.
func NewClient(kubeConfig, kubeContext string) (*Client, error) {
	settings := helmv4cli.New()
	if kubeConfig != "" {
		settings.KubeConfig = kubeConfig
	}

	if kubeContext != "" {
		settings.KubeContext = kubeContext
	}

	actionConfig := new(helmv4action.Configuration)

	initErr := actionConfig.Init(
		settings.RESTClientGetter(),
		settings.Namespace(),
		os.Getenv("HELM_DRIVER"),
	)
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize helm action config: %w", initErr)
	}

	return &Client{
		actionConfig: actionConfig,
		settings:     settings,
	}, nil
}

// InstallOrUpgradeChart upgrades a chart release when present and installs it
// otherwise.
func (c *Client) InstallOrUpgradeChart(
	ctx context.Context,
	spec *ChartSpec,
) (*ReleaseInfo, error) {
	if spec == nil {
		return nil, errChartSpecRequired
	}

	var (
		rel *v1.Release
		err error
	)

	histClient := helmv4action.NewHistory(c.actionConfig)
	histClient.Max = 1

	releases, histErr := histClient.Run(spec.ReleaseName)
	if histErr == nil && len(releases) > 0 {
		rel, err = c.upgradeRelease(ctx, spec)
	} else {
		rel, err = c.performInstall(ctx, spec)
	}

	if err != nil {
		return nil, err
	}

	return releaseToInfo(rel), nil
}

// UninstallRelease removes a Helm release by name within the given namespace.
func (c *Client) UninstallRelease(ctx context.Context, releaseName, _ string) error {
	if releaseName == "" {
		return errReleaseNameRequired
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("uninstall release context cancelled: %w", ctxErr)
	}

	client := helmv4action.NewUninstall(c.actionConfig)
	client.KeepHistory = false

	_, uninstallErr := client.Run(releaseName)
	if uninstallErr != nil {
		return fmt.Errorf("uninstall release %q: %w", releaseName, uninstallErr)
	}

	return nil
}

// AddRepository registers a Helm repository and downloads its index.
func (c *Client) AddRepository(ctx context.Context, entry *RepositoryEntry) error {
	if entry == nil {
		return errRepositoryEntryRequired
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("add repository context cancelled: %w", ctxErr)
	}

	repoFile := c.settings.RepositoryConfig
	if repoFile == "" {
		return errRepositoryConfigUnset
	}

	repoCache := c.settings.RepositoryCache
	if repoCache == "" {
		return errRepositoryCacheUnset
	}

	for _, dir := range []string{filepath.Dir(repoFile), repoCache} {
		mkdirErr := os.MkdirAll(dir, repoDirMode)
		if mkdirErr != nil {
			return fmt.Errorf("create repository directory: %w", mkdirErr)
		}
	}

	repositoryFile, err := repov1.LoadFile(repoFile)
	if err != nil {
		repositoryFile = repov1.NewFile()
	}

	repoEntry := &repov1.Entry{Name: entry.Name, URL: entry.URL}

	chartRepository, err := repov1.NewChartRepository(repoEntry, helmv4getter.All(c.settings))
	if err != nil {
		return fmt.Errorf("create chart repository: %w", err)
	}

	chartRepository.CachePath = repoCache

	_, err = chartRepository.DownloadIndexFile()
	if err != nil {
		return fmt.Errorf("failed to download repository index file: %w", err)
	}

	repositoryFile.Update(repoEntry)

	writeErr := repositoryFile.WriteFile(repoFile, repoFileMode)
	if writeErr != nil {
		return fmt.Errorf("write repository file: %w", writeErr)
	}

	return nil
}

func (c *Client) performInstall(ctx context.Context, spec *ChartSpec) (*v1.Release, error) {
	client := helmv4action.NewInstall(c.actionConfig)
	client.ReleaseName = spec.ReleaseName
	client.Namespace = spec.Namespace
	client.CreateNamespace = spec.CreateNamespace
	client.Version = spec.Version
	client.Timeout = spec.Timeout

	if spec.Wait {
		client.WaitStrategy = helmv4kube.StatusWatcherStrategy
	}

	if client.Timeout == 0 {
		client.Timeout = DefaultTimeout
	}

	client.ChartPathOptions.RepoURL = spec.RepoURL

	chart, err := c.locateAndLoadChart(spec)
	if err != nil {
		return nil, err
	}

	vals, err := parseValues(spec.ValuesYaml)
	if err != nil {
		return nil, err
	}

	releaser, err := client.RunWithContext(ctx, chart, vals)
	if err != nil {
		return nil, fmt.Errorf("install release %q: %w", spec.ReleaseName, err)
	}

	return assertRelease(releaser)
}

func (c *Client) upgradeRelease(ctx context.Context, spec *ChartSpec) (*v1.Release, error) {
	client := helmv4action.NewUpgrade(c.actionConfig)
	client.Namespace = spec.Namespace
	client.Version = spec.Version
	client.Timeout = spec.Timeout

	if spec.Wait {
		client.WaitStrategy = helmv4kube.StatusWatcherStrategy
	}

	if client.Timeout == 0 {
		client.Timeout = DefaultTimeout
	}

	client.ChartPathOptions.RepoURL = spec.RepoURL

	chart, err := c.locateAndLoadChart(spec)
	if err != nil {
		return nil, err
	}

	vals, err := parseValues(spec.ValuesYaml)
	if err != nil {
		return nil, err
	}

	releaser, err := client.RunWithContext(ctx, spec.ReleaseName, chart, vals)
	if err != nil {
		return nil, fmt.Errorf("upgrade release %q: %w", spec.ReleaseName, err)
	}

	return assertRelease(releaser)
}

// locateAndLoadChart resolves the chart reference, downloading it from the
// repository when a repo URL is set.
func (c *Client) locateAndLoadChart(spec *ChartSpec) (*chartv2.Chart, error) {
	chartPath := spec.ChartName

	if spec.RepoURL != "" {
		chartURL, err := repov1.FindChartInRepoURL(
			spec.RepoURL,
			spec.ChartName,
			helmv4getter.All(c.settings),
			repov1.WithChartVersion(spec.Version),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to locate chart %q in repository %s: %w",
				spec.ChartName, spec.RepoURL, err,
			)
		}

		chartPath = chartURL
	}

	chartInterface, err := helmv4loader.Load(chartPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load chart: %w", err)
	}

	chart, ok := chartInterface.(*chartv2.Chart)
	if !ok {
		return nil, fmt.Errorf("unexpected chart type: %T", chartInterface)
	}

	return chart, nil
}

func parseValues(valuesYaml string) (map[string]any, error) {
	vals := map[string]any{}

	if valuesYaml == "" {
		return vals, nil
	}

	err := yaml.Unmarshal([]byte(valuesYaml), &vals)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chart values: %w", err)
	}

	return vals, nil
}

func assertRelease(releaser any) (*v1.Release, error) {
	rel, ok := releaser.(*v1.Release)
	if !ok {
		return nil, fmt.Errorf("unexpected release type: %T", releaser)
	}

	return rel, nil
}

func releaseToInfo(rel *v1.Release) *ReleaseInfo {
	if rel == nil {
		return nil
	}

	status := ""
	if rel.Info != nil {
		status = rel.Info.Status.String()
	}

	return &ReleaseInfo{
		Name:      rel.Name,
		Namespace: rel.Namespace,
		Revision:  rel.Version,
		Status:    status,
	}
}
