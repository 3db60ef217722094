package cmd

import (
	"github.com/buildforge/kindenv/pkg/client/docker"
	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/svc/bootstrap"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// registerConfigFlags declares the descriptor flags on the command and binds
// them to the viper instance, so flags, KINDENV_* environment variables, and
// defaults resolve through a single path.
func registerConfigFlags(cmd *cobra.Command, viperInstance *viper.Viper) {
	flags := cmd.Flags()

	flags.String("cluster-name", env.DefaultClusterName, "Name of the kind cluster")
	flags.String("registry-name", env.DefaultRegistryName, "Name of the local registry container")
	flags.String("network-name", env.DefaultNetworkName, "Docker network shared with the cluster")
	flags.String("operator-dir", ".", "Directory containing the operator source and manifests")
	flags.String("operator-image", env.DefaultOperatorImage, "Tag to build the operator image as")
	flags.String("operator-namespace", env.DefaultOperatorNamespace,
		"Namespace the operator is deployed to")
	flags.String("kubeconfig", "", "Path to write the cluster kubeconfig to")
	flags.String("kube-context", "", "Kube context to use (defaults to the kind context)")
	flags.String("api-service", env.DefaultAPIService, "Name of the operator API service")
	flags.Int("api-port", env.DefaultAPIPort, "Port the operator API service listens on")
	flags.Int("api-local-port", env.DefaultAPIForwardLocal,
		"Local port the API is forwarded to")
	flags.String("hosts-file", env.DefaultHostsFile, "Hosts file to patch for name resolution")
	flags.String("insecure-registry-path", env.DefaultInsecureRegistryPath,
		"Path of the insecure registry drop-in to write")
	flags.String("tekton-release-url", env.DefaultTektonReleaseURL,
		"URL of the Tekton Pipelines release manifest")
	flags.String("task-name", env.DefaultTaskName, "Name of the build task to patch")

	bindDescriptorFlags(flags, viperInstance)
}

// bindDescriptorFlags binds every descriptor flag to its viper key.
func bindDescriptorFlags(flags *pflag.FlagSet, viperInstance *viper.Viper) {
	for _, key := range []string{
		"cluster-name",
		"registry-name",
		"network-name",
		"operator-dir",
		"operator-image",
		"operator-namespace",
		"kubeconfig",
		"kube-context",
		"api-service",
		"api-port",
		"api-local-port",
		"hosts-file",
		"insecure-registry-path",
		"tekton-release-url",
		"task-name",
	} {
		_ = viperInstance.BindPFlag(key, flags.Lookup(key))
	}
}

// loadEnvironment resolves the descriptor from the viper instance and builds
// the orchestration context, wired to the command's output streams.
func loadEnvironment(cmd *cobra.Command, viperInstance *viper.Viper) (*env.Environment, error) {
	cfg, err := env.LoadConfig(viperInstance)
	if err != nil {
		return nil, err
	}

	environment, err := env.NewEnvironment(cfg)
	if err != nil {
		return nil, err
	}

	environment.Stdout = cmd.OutOrStdout()
	environment.Stderr = cmd.ErrOrStderr()

	return environment, nil
}

// newOrchestrator connects to the Docker daemon and wires the default
// orchestrator for the environment.
func newOrchestrator(environment *env.Environment) (*bootstrap.Orchestrator, error) {
	apiClient, err := docker.GetDockerClient()
	if err != nil {
		return nil, err
	}

	return bootstrap.NewOrchestrator(environment, apiClient), nil
}
