package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/buildforge/kindenv/pkg/client/docker"
	"github.com/buildforge/kindenv/pkg/client/helm"
	"github.com/buildforge/kindenv/pkg/client/kubectl"
	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/k8s"
	"github.com/buildforge/kindenv/pkg/k8s/readiness"
	"github.com/buildforge/kindenv/pkg/runner"
	"github.com/buildforge/kindenv/pkg/svc/access"
	"github.com/buildforge/kindenv/pkg/svc/deployer"
	"github.com/buildforge/kindenv/pkg/svc/hostcfg"
	"github.com/buildforge/kindenv/pkg/svc/installer"
	ingressnginxinstaller "github.com/buildforge/kindenv/pkg/svc/installer/ingressnginx"
	tektoninstaller "github.com/buildforge/kindenv/pkg/svc/installer/tekton"
	"github.com/buildforge/kindenv/pkg/svc/patcher"
	kindprovisioner "github.com/buildforge/kindenv/pkg/svc/provisioner/cluster/kind"
	registryprovisioner "github.com/buildforge/kindenv/pkg/svc/provisioner/registry"
	"github.com/buildforge/kindenv/pkg/svc/shim"
	dockerclient "github.com/docker/docker/client"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/cli-runtime/pkg/genericiooptions"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Node markers stamped during cluster bootstrap.
const (
	// NodeWorkerLabel marks every node schedulable for build workloads.
	NodeWorkerLabel = "node-role.kubernetes.io/worker"

	// NodeRegistryAnnotation records the registry route build workloads on
	// the node should push to.
	NodeRegistryAnnotation = "forge.buildforge.io/registry"
)

// Clients bundles the cluster-side clients that only exist once the cluster
// does.
type Clients struct {
	Clientset     kubernetes.Interface
	Apiextensions apiextensionsclient.Interface
	Dynamic       dynamic.Interface
	RESTConfig    *rest.Config
	Helm          helm.Interface
}

// ConnectFunc builds cluster clients from the environment's kubeconfig.
type ConnectFunc func(environment *env.Environment) (*Clients, error)

// DefaultConnect builds real clients against the environment's kubeconfig.
func DefaultConnect(environment *env.Environment) (*Clients, error) {
	kubeconfig := environment.KubeconfigPath
	kubeContext := environment.Config.KubeContext

	clientset, err := k8s.NewClientset(kubeconfig, kubeContext)
	if err != nil {
		return nil, err
	}

	restConfig, err := k8s.BuildRESTConfig(kubeconfig, kubeContext)
	if err != nil {
		return nil, err
	}

	apiextensions, err := apiextensionsclient.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create apiextensions client: %w", err)
	}

	dynamicClient, err := k8s.NewDynamicClient(kubeconfig, kubeContext)
	if err != nil {
		return nil, err
	}

	helmClient, err := helm.NewClient(kubeconfig, kubeContext)
	if err != nil {
		return nil, fmt.Errorf("failed to create helm client: %w", err)
	}

	return &Clients{
		Clientset:     clientset,
		Apiextensions: apiextensions,
		Dynamic:       dynamicClient,
		RESTConfig:    restConfig,
		Helm:          helmClient,
	}, nil
}

// Orchestrator assembles the bootstrap step list against concrete services.
type Orchestrator struct {
	dockerClient  dockerclient.APIClient
	registry      *registryprovisioner.Provisioner
	cluster       *kindprovisioner.Provisioner
	kubectlClient *kubectl.Client
	cmdRunner     runner.CommandRunner
	connect       ConnectFunc

	// clients is populated by the cluster step and read by every step that
	// requires it.
	clients *Clients
}

// NewOrchestrator wires the default service implementations for the
// environment.
func NewOrchestrator(environment *env.Environment, apiClient dockerclient.APIClient) *Orchestrator {
	cfg := environment.Config

	kubeconfigPath := kubeconfigPathFor(cfg)
	environment.KubeconfigPath = kubeconfigPath

	ioStreams := genericiooptions.IOStreams{
		In:     os.Stdin,
		Out:    environment.Stdout,
		ErrOut: environment.Stderr,
	}

	cmdRunner := runner.NewCobraCommandRunner(environment.Stdout, environment.Stderr)

	return &Orchestrator{
		dockerClient: apiClient,
		registry: registryprovisioner.NewProvisioner(apiClient, docker.RegistryConfig{
			Name:         cfg.RegistryName,
			HostPort:     cfg.RegistryHostPort,
			PlatformPort: cfg.RegistryPlatformPort,
		}),
		cluster: kindprovisioner.NewProvisionerWithRunner(
			cfg.ClusterName,
			kubeconfigPath,
			cmdRunner,
			environment.Stdout,
			environment.Stderr,
		),
		kubectlClient: kubectl.NewClient(ioStreams),
		cmdRunner:     cmdRunner,
		connect:       DefaultConnect,
	}
}

// WithConnect replaces the cluster client factory.
func (o *Orchestrator) WithConnect(connect ConnectFunc) *Orchestrator {
	o.connect = connect

	return o
}

// kubeconfigPathFor returns the kubeconfig path the run writes cluster
// credentials to.
func kubeconfigPathFor(cfg env.Config) string {
	if cfg.Kubeconfig != "" {
		return cfg.Kubeconfig
	}

	return filepath.Join(os.TempDir(), "kindenv-"+cfg.ClusterName+".kubeconfig")
}

// Steps returns the ordered bootstrap step list.
func (o *Orchestrator) Steps(environment *env.Environment) []Step {
	cfg := environment.Config

	return []Step{
		{
			Name: "provision registry",
			Run:  o.runProvisionRegistry,
			ManualCleanup: []string{
				fmt.Sprintf("docker rm -f %s", cfg.RegistryName),
				fmt.Sprintf("docker volume rm %s-data", cfg.RegistryName),
			},
		},
		{
			Name:     "patch host resolution",
			Requires: []string{"provision registry"},
			Run:      o.runPatchHostResolution,
			ManualCleanup: []string{
				fmt.Sprintf("sudo sed -i '/%s/d' %s", cfg.PlatformRegistryHost, cfg.HostsFile),
				fmt.Sprintf("sudo rm -f %s", cfg.InsecureRegistryPath),
			},
		},
		{
			Name:     "create cluster",
			Requires: []string{"provision registry"},
			Run:      o.runCreateCluster,
			ManualCleanup: []string{
				fmt.Sprintf("kind delete cluster --name %s", cfg.ClusterName),
			},
		},
		{
			Name:     "join cluster network",
			Requires: []string{"provision registry", "create cluster"},
			Run:      o.runJoinClusterNetwork,
			ManualCleanup: []string{
				fmt.Sprintf("docker network disconnect %s %s", cfg.NetworkName, cfg.RegistryName),
			},
		},
		{
			Name:     "apply registry identity shim",
			Requires: []string{"join cluster network"},
			Run:      o.runApplyShim,
			ManualCleanup: []string{
				fmt.Sprintf("kubectl --kubeconfig %s delete namespace %s",
					environment.KubeconfigPath, cfg.PlatformRegistryNamespace),
			},
		},
		{
			Name:     "install tekton pipelines",
			Requires: []string{"create cluster"},
			Run:      o.runInstallTekton,
			ManualCleanup: []string{
				fmt.Sprintf("kubectl --kubeconfig %s delete --ignore-not-found -f %s",
					environment.KubeconfigPath, cfg.TektonReleaseURL),
			},
		},
		{
			Name:     "install ingress-nginx",
			Requires: []string{"create cluster"},
			Run:      o.runInstallIngress,
			ManualCleanup: []string{
				"helm uninstall ingress-nginx --namespace ingress-nginx",
			},
		},
		{
			Name:     "deploy operator",
			Requires: []string{"apply registry identity shim", "install tekton pipelines"},
			Run:      o.runDeployOperator,
			ManualCleanup: []string{
				fmt.Sprintf("kubectl --kubeconfig %s delete namespace %s",
					environment.KubeconfigPath, cfg.OperatorNamespace),
			},
		},
		{
			Name:     "apply runtime patches",
			Requires: []string{"deploy operator"},
			Run:      o.runApplyPatches,
		},
		{
			// The port-forward is an in-process tunnel that dies with the
			// process, so there is nothing to clean up manually.
			Name:     "provision access",
			Requires: []string{"deploy operator"},
			Run:      o.runProvisionAccess,
		},
	}
}

func (o *Orchestrator) runProvisionRegistry(
	ctx context.Context,
	_ *env.Environment,
) (*Teardown, error) {
	err := o.registry.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: "remove registry container",
		Run:         o.registry.Remove,
	}, nil
}

func (o *Orchestrator) runPatchHostResolution(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	cfg := environment.Config

	err := hostcfg.EnsureHostsEntry(cfg.HostsFile, cfg.PlatformRegistryHost)
	if err != nil {
		return nil, err
	}

	err = hostcfg.WriteInsecureRegistryConfig(cfg.InsecureRegistryPath, []string{
		cfg.PlatformRegistryRoute(),
		cfg.HostRegistryRoute(),
	})
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: "remove host resolution patches",
		Run: func(context.Context) error {
			err := hostcfg.RemoveHostsEntry(cfg.HostsFile, cfg.PlatformRegistryHost)
			if err != nil {
				return err
			}

			return hostcfg.RemoveInsecureRegistryConfig(cfg.InsecureRegistryPath)
		},
	}, nil
}

func (o *Orchestrator) runCreateCluster(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	cfg := environment.Config

	err := o.cluster.Create(ctx)
	if err != nil {
		return nil, err
	}

	if environment.Config.KubeContext == "" {
		environment.Config.KubeContext = o.cluster.KubeContext()
	}

	clients, err := o.connect(environment)
	if err != nil {
		return nil, err
	}

	o.clients = clients

	err = readiness.WaitForAllNodesReady(
		ctx, clients.Clientset, cfg.PollInterval, cfg.NodeWait,
	)
	if err != nil {
		return nil, err
	}

	err = o.markNodes(ctx, environment)
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: "delete cluster",
		Run:         o.cluster.Delete,
	}, nil
}

// markNodes stamps every node with the worker label and the registry route
// annotation.
func (o *Orchestrator) markNodes(ctx context.Context, environment *env.Environment) error {
	cfg := environment.Config

	nodes, err := k8s.ListNodeNames(ctx, o.clients.Clientset)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		err = k8s.LabelNode(ctx, o.clients.Clientset, node, map[string]string{
			NodeWorkerLabel: "",
		})
		if err != nil {
			return err
		}

		err = k8s.AnnotateNode(ctx, o.clients.Clientset, node, map[string]string{
			NodeRegistryAnnotation: cfg.PlatformRegistryRoute(),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) runJoinClusterNetwork(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	cfg := environment.Config

	registryIP, err := o.registry.JoinNetwork(
		ctx, cfg.NetworkName, cfg.PollInterval, cfg.RegistryIPWait,
	)
	if err != nil {
		return nil, err
	}

	environment.RegistryIP = registryIP

	endpoint := fmt.Sprintf("http://%s:%d", cfg.RegistryName, env.RegistryInternalPort)

	err = kindprovisioner.ConfigureRegistryHosts(
		ctx,
		o.dockerClient,
		cfg.ClusterName,
		[]string{cfg.HostRegistryRoute(), cfg.PlatformRegistryRoute()},
		endpoint,
	)
	if err != nil {
		return nil, err
	}

	return nil, nil
}

func (o *Orchestrator) runApplyShim(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	cfg := environment.Config

	registryShim := shim.NewShim(
		o.clients.Clientset,
		cfg.PlatformRegistryNamespace,
		cfg.PlatformRegistryService,
		int32(env.RegistryInternalPort),
	)

	err := registryShim.Ensure(ctx, environment.RegistryIP)
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: "remove registry identity shim",
		Run:         registryShim.Remove,
	}, nil
}

func (o *Orchestrator) runInstallTekton(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	cfg := environment.Config

	return o.runInstaller(ctx, "uninstall tekton pipelines", tektoninstaller.NewTektonInstaller(
		o.kubectlClient,
		o.cmdRunner,
		o.clients.Clientset,
		environment.KubeconfigPath,
		cfg.TektonReleaseURL,
		cfg.PollInterval,
		cfg.InfraWait,
	))
}

func (o *Orchestrator) runInstallIngress(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	return o.runInstaller(ctx, "uninstall ingress-nginx", ingressnginxinstaller.NewIngressNginxInstaller(
		o.clients.Helm,
		environment.Config.InfraWait,
	))
}

// runInstaller installs an infrastructure component and pairs it with its
// uninstall teardown.
func (o *Orchestrator) runInstaller(
	ctx context.Context,
	teardownDescription string,
	inst installer.Installer,
) (*Teardown, error) {
	err := inst.Install(ctx)
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: teardownDescription,
		Run:         inst.Uninstall,
	}, nil
}

func (o *Orchestrator) runDeployOperator(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	builder := docker.NewImageBuilder(o.dockerClient, environment.Stdout)

	loader := func(ctx context.Context, clusterName, imageTag string) error {
		return kindprovisioner.LoadImageIntoNodes(ctx, o.dockerClient, clusterName, imageTag)
	}

	operatorDeployer := deployer.NewDeployer(
		o.clients.Clientset,
		o.clients.Apiextensions,
		o.clients.Dynamic,
		builder,
		loader,
		o.kubectlClient,
		o.cmdRunner,
		environment,
	)

	err := operatorDeployer.Deploy(ctx)
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: "remove operator deployment",
		Run:         operatorDeployer.Undeploy,
	}, nil
}

func (o *Orchestrator) runApplyPatches(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	cfg := environment.Config

	runtimePatcher := patcher.NewPatcher(
		o.clients.Dynamic,
		cfg.OperatorNamespace,
		cfg.TaskName,
		cfg.PlatformRegistryRoute(),
		deployer.ConfigGVR,
		deployer.ConfigSingletonName,
	)

	err := runtimePatcher.Apply(ctx)
	if err != nil {
		return nil, err
	}

	return nil, nil
}

func (o *Orchestrator) runProvisionAccess(
	ctx context.Context,
	environment *env.Environment,
) (*Teardown, error) {
	forwarder := access.NewSPDYForwarder(
		o.clients.Clientset,
		o.clients.RESTConfig,
		environment.Stdout,
		environment.Stderr,
	)

	provisioner := access.NewProvisioner(o.clients.Clientset, forwarder, environment)

	err := provisioner.Provision(ctx)
	if err != nil {
		return nil, err
	}

	return &Teardown{
		Description: "stop api port-forward",
		Run:         provisioner.Teardown,
	}, nil
}

// DownTeardowns returns the teardowns for a stateless teardown run, in
// creation order. Everything inside the cluster disappears with the cluster,
// so only the host-side resources need individual removal.
func (o *Orchestrator) DownTeardowns(environment *env.Environment) []Teardown {
	cfg := environment.Config

	return []Teardown{
		{
			Description: "remove registry container",
			Run:         o.registry.Remove,
		},
		{
			Description: "remove host resolution patches",
			Run: func(context.Context) error {
				err := hostcfg.RemoveHostsEntry(cfg.HostsFile, cfg.PlatformRegistryHost)
				if err != nil {
					return err
				}

				return hostcfg.RemoveInsecureRegistryConfig(cfg.InsecureRegistryPath)
			},
		},
		{
			Description: "delete cluster",
			Run: func(ctx context.Context) error {
				err := o.cluster.Delete(ctx)
				if errors.Is(err, kindprovisioner.ErrClusterNotFound) {
					return nil
				}

				return err
			},
		},
	}
}
