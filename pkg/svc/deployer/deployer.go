// Package deployer builds the operator image, loads it into the cluster and
// rolls out the operator's CRDs and workloads.
package deployer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/buildforge/kindenv/pkg/client/kubectl"
	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/k8s"
	"github.com/buildforge/kindenv/pkg/k8s/readiness"
	"github.com/buildforge/kindenv/pkg/runner"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Operator manifest layout inside the operator directory.
const (
	crdDir      = "config/crd"
	workloadDir = "config/deploy"

	operatorDockerfile = "Dockerfile"
	cliDockerfile      = "Dockerfile.cli"

	controllerDeployment = "forge-controller"

	configCRDName = "forgeconfigs.operator.buildforge.io"
)

// ConfigGVR identifies the operator's configuration custom resource.
var ConfigGVR = schema.GroupVersionResource{
	Group:    "operator.buildforge.io",
	Version:  "v1alpha1",
	Resource: "forgeconfigs",
}

// ConfigSingletonName is the name of the one configuration object the
// operator reconciles.
const ConfigSingletonName = "forge"

// ImageBuilder builds a container image from a local context directory.
type ImageBuilder interface {
	BuildImage(ctx context.Context, contextDir, dockerfile, tag, platform string) error
	PushImage(ctx context.Context, tag string) error
}

// NodeLoader imports an image from the local daemon into every cluster node.
type NodeLoader func(ctx context.Context, clusterName, imageTag string) error

// Deployer rolls the operator out into the cluster.
type Deployer struct {
	clientset     kubernetes.Interface
	apiextensions apiextensionsclient.Interface
	dynamicClient dynamic.Interface
	builder       ImageBuilder
	loadImage     NodeLoader
	kubectlClient *kubectl.Client
	cmdRunner     runner.CommandRunner
	environment   *env.Environment
}

// NewDeployer creates a deployer operating on the given environment.
func NewDeployer(
	clientset kubernetes.Interface,
	apiextensions apiextensionsclient.Interface,
	dynamicClient dynamic.Interface,
	builder ImageBuilder,
	loadImage NodeLoader,
	kubectlClient *kubectl.Client,
	cmdRunner runner.CommandRunner,
	environment *env.Environment,
) *Deployer {
	return &Deployer{
		clientset:     clientset,
		apiextensions: apiextensions,
		dynamicClient: dynamicClient,
		builder:       builder,
		loadImage:     loadImage,
		kubectlClient: kubectlClient,
		cmdRunner:     cmdRunner,
		environment:   environment,
	}
}

// Deploy runs the full operator rollout. Each stage gates the next; any
// failure aborts the deploy.
func (d *Deployer) Deploy(ctx context.Context) error {
	cfg := d.environment.Config

	err := k8s.EnsurePrivilegedNamespace(ctx, d.clientset, cfg.OperatorNamespace)
	if err != nil {
		return fmt.Errorf("failed to ensure operator namespace: %w", err)
	}

	err = d.buildImages(ctx)
	if err != nil {
		return err
	}

	err = d.loadImage(ctx, cfg.ClusterName, cfg.OperatorImage)
	if err != nil {
		return fmt.Errorf("failed to load operator image into cluster: %w", err)
	}

	err = d.installCRDs(ctx)
	if err != nil {
		return err
	}

	err = d.applyWorkloads(ctx)
	if err != nil {
		return err
	}

	err = d.ensureConfigSingleton(ctx)
	if err != nil {
		return err
	}

	err = readiness.WaitForDeploymentsReady(
		ctx,
		d.clientset,
		cfg.OperatorNamespace,
		[]string{controllerDeployment, cfg.APIService},
		cfg.PollInterval,
		cfg.OperatorWait,
	)
	if err != nil {
		return fmt.Errorf("failed to wait for operator deployments: %w", err)
	}

	return nil
}

// Undeploy removes the operator workloads and namespace.
func (d *Deployer) Undeploy(ctx context.Context) error {
	cfg := d.environment.Config

	deleteCmd := d.kubectlClient.CreateDeleteCommand(d.environment.KubeconfigPath)

	_, err := d.cmdRunner.Run(ctx, deleteCmd, []string{
		"--ignore-not-found", "-R", "-f", filepath.Join(cfg.OperatorDir, workloadDir),
	})
	if err != nil {
		return fmt.Errorf("failed to delete operator workloads: %w", err)
	}

	err = k8s.DeleteNamespace(ctx, d.clientset, cfg.OperatorNamespace)
	if err != nil {
		return fmt.Errorf("failed to delete operator namespace: %w", err)
	}

	return nil
}

// buildImages builds the operator image for the resolved platform, plus the
// companion CLI image when its Dockerfile exists in the operator directory.
func (d *Deployer) buildImages(ctx context.Context) error {
	cfg := d.environment.Config
	platform := d.environment.Platform.BuildPlatform

	err := d.builder.BuildImage(ctx, cfg.OperatorDir, operatorDockerfile, cfg.OperatorImage, platform)
	if err != nil {
		return fmt.Errorf("failed to build operator image: %w", err)
	}

	_, err = os.Stat(filepath.Join(cfg.OperatorDir, cliDockerfile))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to check for cli dockerfile: %w", err)
	}

	cliTag := cliImageTag(cfg)

	err = d.builder.BuildImage(ctx, cfg.OperatorDir, cliDockerfile, cliTag, platform)
	if err != nil {
		return fmt.Errorf("failed to build cli image: %w", err)
	}

	// Build workloads pull the CLI image through the shimmed registry route,
	// so it goes into the local registry rather than the cluster nodes.
	err = d.builder.PushImage(ctx, cliTag)
	if err != nil {
		return fmt.Errorf("failed to push cli image: %w", err)
	}

	return nil
}

// installCRDs applies the operator's schema extensions and waits until the
// configuration CRD is established.
func (d *Deployer) installCRDs(ctx context.Context) error {
	cfg := d.environment.Config

	applyCmd := d.kubectlClient.CreateApplyCommand(d.environment.KubeconfigPath)

	_, err := d.cmdRunner.Run(ctx, applyCmd, []string{
		"--server-side", "-R", "-f", filepath.Join(cfg.OperatorDir, crdDir),
	})
	if err != nil {
		return fmt.Errorf("failed to apply operator CRDs: %w", err)
	}

	err = readiness.WaitForCRDEstablished(
		ctx, d.apiextensions, configCRDName, cfg.PollInterval, cfg.InfraWait,
	)
	if err != nil {
		return fmt.Errorf("failed to wait for %s: %w", configCRDName, err)
	}

	return nil
}

// applyWorkloads applies the operator deployment manifests.
func (d *Deployer) applyWorkloads(ctx context.Context) error {
	cfg := d.environment.Config

	applyCmd := d.kubectlClient.CreateApplyCommand(d.environment.KubeconfigPath)

	_, err := d.cmdRunner.Run(ctx, applyCmd, []string{
		"--server-side", "-R", "-f", filepath.Join(cfg.OperatorDir, workloadDir),
	})
	if err != nil {
		return fmt.Errorf("failed to apply operator workloads: %w", err)
	}

	return nil
}

// ensureConfigSingleton creates the operator's configuration object if the
// workload manifests did not ship one. The patch applier later points its
// registry route at the shimmed registry.
func (d *Deployer) ensureConfigSingleton(ctx context.Context) error {
	cfg := d.environment.Config
	configs := d.dynamicClient.Resource(ConfigGVR).Namespace(cfg.OperatorNamespace)

	_, err := configs.Get(ctx, ConfigSingletonName, metav1.GetOptions{})
	if err == nil {
		return nil
	}

	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to get operator config: %w", err)
	}

	singleton := &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": ConfigGVR.Group + "/" + ConfigGVR.Version,
			"kind":       "ForgeConfig",
			"metadata": map[string]any{
				"name":      ConfigSingletonName,
				"namespace": cfg.OperatorNamespace,
			},
			"spec": map[string]any{
				"registryRoute": cfg.PlatformRegistryRoute(),
			},
		},
	}

	_, err = configs.Create(ctx, singleton, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create operator config: %w", err)
	}

	return nil
}

// cliImageTag returns the companion CLI image tag, addressed at the local
// registry so the image is pullable from inside the cluster.
func cliImageTag(cfg env.Config) string {
	return cfg.HostRegistryRoute() + "/forge/cli:e2e"
}
