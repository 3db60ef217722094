// Package cmd wires the kindenv command tree.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, so
// `--cluster-name` binds to KINDENV_CLUSTER_NAME.
const EnvPrefix = "KINDENV"

const rootCmdLong = `kindenv bootstraps a throwaway kind cluster wired up for operator end-to-end
tests: a local registry the cluster trusts, an in-cluster identity shim for the
platform registry hostname, Tekton Pipelines, ingress-nginx, and the operator
itself built from source and loaded into the cluster nodes.

Every setting can be overridden with a flag or a KINDENV_* environment
variable.`

// NewRootCmd creates and returns the root command with version info and
// subcommands.
func NewRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kindenv",
		Short: "kindenv bootstraps an ephemeral kind cluster for operator e2e tests",
		Long:  rootCmdLong,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The err can safely be ignored, as it can never fail at runtime.
			_ = cmd.Help()

			return nil
		},
		SilenceUsage: true,
	}

	cmd.Version = fmt.Sprintf("%s (Built on %s from Git SHA %s)", version, date, commit)

	cmd.AddCommand(NewUpCmd())
	cmd.AddCommand(NewDownCmd())

	return cmd
}

// Execute runs the provided root command and handles errors.
func Execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}

	return nil
}

// newViper creates a viper instance with KINDENV_* environment binding.
func newViper() *viper.Viper {
	viperInstance := viper.New()
	viperInstance.SetEnvPrefix(EnvPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viperInstance.AutomaticEnv()

	return viperInstance
}
