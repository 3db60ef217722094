package cmd

import (
	"fmt"

	"github.com/buildforge/kindenv/pkg/svc/bootstrap"
	"github.com/buildforge/kindenv/pkg/utils/notify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const downCmdLong = `Remove the end-to-end test environment.

The command is stateless: it derives everything to remove from the descriptor,
so it also cleans up after a crashed or interrupted bootstrap. Resources that
are already gone are skipped.`

// NewDownCmd creates the down command.
func NewDownCmd() *cobra.Command {
	viperInstance := newViper()

	cmd := &cobra.Command{
		Use:          "down",
		Short:        "Remove the end-to-end test environment",
		Long:         downCmdLong,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runDownCommand(cmd, viperInstance)
	}

	registerConfigFlags(cmd, viperInstance)

	return cmd
}

func runDownCommand(cmd *cobra.Command, viperInstance *viper.Viper) error {
	environment, err := loadEnvironment(cmd, viperInstance)
	if err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(environment)
	if err != nil {
		return err
	}

	driver, err := bootstrap.NewDriver(nil)
	if err != nil {
		return err
	}

	notify.Titlef(environment.Stdout, "🧹", "Teardown %s...", environment.Config.ClusterName)

	failures := driver.RunTeardowns(
		cmd.Context(), environment, orchestrator.DownTeardowns(environment),
	)
	if failures > 0 {
		return fmt.Errorf("%w: %d teardown(s) failed", ErrTeardownIncomplete, failures)
	}

	notify.Successf(environment.Stdout, "environment removed")

	return nil
}
