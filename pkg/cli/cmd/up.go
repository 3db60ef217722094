package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/svc/bootstrap"
	"github.com/buildforge/kindenv/pkg/utils/notify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrTeardownIncomplete is returned when one or more teardowns failed and
// host-side resources may be left behind.
var ErrTeardownIncomplete = errors.New("teardown incomplete")

const upCmdLong = `Bootstrap the end-to-end test environment.

On success the command prints the operator API URL, a bearer token, and the
registry address tests should use, then keeps running to hold the API
port-forward open; interrupt it (Ctrl-C) to tear the environment down. On
failure every resource created so far is preserved for inspection and the
matching manual cleanup commands are printed.

Examples:
  # Bootstrap with defaults, operator source in the current directory
  kindenv up

  # Bootstrap from a checkout elsewhere and tear down again immediately
  kindenv up --operator-dir ~/src/forge-operator --teardown`

// NewUpCmd creates the up command.
func NewUpCmd() *cobra.Command {
	viperInstance := newViper()

	var teardownAfter bool

	cmd := &cobra.Command{
		Use:          "up",
		Short:        "Bootstrap the end-to-end test environment",
		Long:         upCmdLong,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runUpCommand(cmd, viperInstance, teardownAfter)
	}

	registerConfigFlags(cmd, viperInstance)
	cmd.Flags().BoolVar(&teardownAfter, "teardown", false,
		"Tear the environment down again after a successful bootstrap")

	return cmd
}

func runUpCommand(cmd *cobra.Command, viperInstance *viper.Viper, teardownAfter bool) error {
	environment, err := loadEnvironment(cmd, viperInstance)
	if err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(environment)
	if err != nil {
		return err
	}

	driver, err := bootstrap.NewDriver(orchestrator.Steps(environment))
	if err != nil {
		return err
	}

	notify.Titlef(environment.Stdout, "🚀", "Bootstrap %s...", environment.Config.ClusterName)

	teardowns, err := driver.Up(cmd.Context(), environment)
	if err != nil {
		return err
	}

	printAccessInfo(environment)

	// The API port-forward is an in-process tunnel; returning here would
	// close it before any client could connect. Hold the environment open
	// until the developer interrupts, unless an immediate teardown was
	// requested.
	if !teardownAfter {
		notify.Infof(environment.Stdout, "environment stays up; press Ctrl-C to tear it down")
		waitForShutdown(cmd.Context())
	}

	notify.Titlef(environment.Stdout, "🧹", "Teardown %s...", environment.Config.ClusterName)

	// The command context may already be cancelled by the shutdown signal.
	failures := driver.RunTeardowns(context.Background(), environment, teardowns)
	if failures > 0 {
		return fmt.Errorf("%w: %d teardown(s) failed", ErrTeardownIncomplete, failures)
	}

	return nil
}

// waitForShutdown blocks until an interrupt or termination signal arrives, or
// the context is cancelled.
func waitForShutdown(ctx context.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-signals:
	case <-ctx.Done():
	}
}

// printAccessInfo prints the developer-facing outputs of a successful
// bootstrap.
func printAccessInfo(environment *env.Environment) {
	notify.Successf(environment.Stdout, "environment ready")
	notify.Infof(environment.Stdout, "API URL:      %s", environment.Access.APIURL)
	notify.Infof(environment.Stdout, "Bearer token: %s", environment.Access.BearerToken)
	notify.Infof(environment.Stdout, "Registry:     %s (user %s / pass %s)",
		environment.Access.RegistryAddr,
		environment.Access.RegistryUsername,
		environment.Access.RegistryPassword,
	)
	notify.Infof(environment.Stdout, "Kubeconfig:   %s", environment.KubeconfigPath)
}
