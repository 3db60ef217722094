// Package env holds the immutable environment descriptor for a bootstrap run
// and the mutable orchestration context threaded through every step.
package env

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Default descriptor values. Every field can be overridden via flag or
// KINDENV_* environment variable.
const (
	DefaultClusterName  = "forge-e2e"
	DefaultRegistryName = "forge-registry"
	DefaultNetworkName  = "kind"

	// DefaultRegistryHostPort is the host port for direct registry access
	// (image pushes from the host during operator deployment).
	DefaultRegistryHostPort = 5001
	// DefaultRegistryPlatformPort is the host port matching the port the
	// platform registry path expects, so the platform hostname resolves to a
	// working registry from the host via the loopback hosts entry.
	DefaultRegistryPlatformPort = 5000
	// RegistryInternalPort is the port the registry process listens on inside
	// its container. Both published host ports map to it.
	RegistryInternalPort = 5000

	// DefaultPlatformRegistryHost is the in-cluster DNS name the build logic
	// expects on the target platform. The identity shim makes it resolve to
	// the local registry.
	DefaultPlatformRegistryHost = "image-registry.openshift-image-registry.svc"
	// DefaultPlatformRegistryNamespace is the namespace implied by the
	// platform registry hostname's service path.
	DefaultPlatformRegistryNamespace = "openshift-image-registry"
	// DefaultPlatformRegistryService is the service short name implied by the
	// platform registry hostname.
	DefaultPlatformRegistryService = "image-registry"

	DefaultOperatorNamespace = "forge-system"
	DefaultOperatorImage     = "ghcr.io/buildforge/forge-operator:e2e"
	DefaultAPIService        = "forge-api"
	DefaultAPIPort           = 8000
	DefaultServiceAccount    = "forge-e2e"

	DefaultHostsFile            = "/etc/hosts"
	DefaultInsecureRegistryPath = "/etc/containers/registries.conf.d/forge-e2e.conf"

	DefaultTektonReleaseURL = "https://storage.googleapis.com/tekton-releases/pipeline/latest/release.yaml"

	DefaultTaskName = "forge-image-push"
)

// Default wait bounds. The operator bound is long because it covers an image
// build plus controller startup.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultNodeWait        = 3 * time.Minute
	DefaultRegistryIPWait  = 1 * time.Minute
	DefaultInfraWait       = 5 * time.Minute
	DefaultOperatorWait    = 10 * time.Minute
	DefaultTokenTTL        = 24 * time.Hour
	DefaultForwardSettle   = 3 * time.Second
	DefaultAPIForwardLocal = 8000
)

// Config is the immutable environment descriptor. It is resolved once at
// process start and read-only thereafter.
type Config struct {
	ClusterName  string `mapstructure:"cluster-name"`
	RegistryName string `mapstructure:"registry-name"`
	NetworkName  string `mapstructure:"network-name"`

	RegistryHostPort     int `mapstructure:"registry-host-port"`
	RegistryPlatformPort int `mapstructure:"registry-platform-port"`

	PlatformRegistryHost      string `mapstructure:"platform-registry-host"`
	PlatformRegistryNamespace string `mapstructure:"platform-registry-namespace"`
	PlatformRegistryService   string `mapstructure:"platform-registry-service"`

	OperatorNamespace string `mapstructure:"operator-namespace"`
	OperatorImage     string `mapstructure:"operator-image"`
	OperatorDir       string `mapstructure:"operator-dir"`
	APIService        string `mapstructure:"api-service"`
	APIPort           int    `mapstructure:"api-port"`
	APILocalPort      int    `mapstructure:"api-local-port"`
	ServiceAccount    string `mapstructure:"service-account"`

	HostsFile            string `mapstructure:"hosts-file"`
	InsecureRegistryPath string `mapstructure:"insecure-registry-path"`

	TektonReleaseURL string `mapstructure:"tekton-release-url"`
	TaskName         string `mapstructure:"task-name"`

	Kubeconfig  string `mapstructure:"kubeconfig"`
	KubeContext string `mapstructure:"kube-context"`

	PollInterval   time.Duration `mapstructure:"poll-interval"`
	NodeWait       time.Duration `mapstructure:"node-wait"`
	RegistryIPWait time.Duration `mapstructure:"registry-ip-wait"`
	InfraWait      time.Duration `mapstructure:"infra-wait"`
	OperatorWait   time.Duration `mapstructure:"operator-wait"`
	TokenTTL       time.Duration `mapstructure:"token-ttl"`

	// HostArch is the CPU architecture used to resolve the build platform.
	// Defaults to the Go runtime's architecture.
	HostArch string `mapstructure:"host-arch"`
}

// PlatformRegistryRoute returns the registry route build workloads are pointed
// at: the platform registry hostname with the registry's internal port.
func (c Config) PlatformRegistryRoute() string {
	return fmt.Sprintf("%s:%d", c.PlatformRegistryHost, RegistryInternalPort)
}

// HostRegistryRoute returns the direct host address of the registry.
func (c Config) HostRegistryRoute() string {
	return fmt.Sprintf("localhost:%d", c.RegistryHostPort)
}

// SetDefaults registers the descriptor defaults on the provided viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("cluster-name", DefaultClusterName)
	v.SetDefault("registry-name", DefaultRegistryName)
	v.SetDefault("network-name", DefaultNetworkName)
	v.SetDefault("registry-host-port", DefaultRegistryHostPort)
	v.SetDefault("registry-platform-port", DefaultRegistryPlatformPort)
	v.SetDefault("platform-registry-host", DefaultPlatformRegistryHost)
	v.SetDefault("platform-registry-namespace", DefaultPlatformRegistryNamespace)
	v.SetDefault("platform-registry-service", DefaultPlatformRegistryService)
	v.SetDefault("operator-namespace", DefaultOperatorNamespace)
	v.SetDefault("operator-image", DefaultOperatorImage)
	v.SetDefault("operator-dir", ".")
	v.SetDefault("api-service", DefaultAPIService)
	v.SetDefault("api-port", DefaultAPIPort)
	v.SetDefault("api-local-port", DefaultAPIForwardLocal)
	v.SetDefault("service-account", DefaultServiceAccount)
	v.SetDefault("hosts-file", DefaultHostsFile)
	v.SetDefault("insecure-registry-path", DefaultInsecureRegistryPath)
	v.SetDefault("tekton-release-url", DefaultTektonReleaseURL)
	v.SetDefault("task-name", DefaultTaskName)
	v.SetDefault("poll-interval", DefaultPollInterval)
	v.SetDefault("node-wait", DefaultNodeWait)
	v.SetDefault("registry-ip-wait", DefaultRegistryIPWait)
	v.SetDefault("infra-wait", DefaultInfraWait)
	v.SetDefault("operator-wait", DefaultOperatorWait)
	v.SetDefault("token-ttl", DefaultTokenTTL)
	v.SetDefault("host-arch", runtime.GOARCH)
}

// LoadConfig resolves the environment descriptor from defaults, KINDENV_*
// environment variables, and any flags bound to the viper instance.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal environment config: %w", err)
	}

	return cfg, nil
}
