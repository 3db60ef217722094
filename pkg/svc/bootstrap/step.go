// Package bootstrap drives the ordered provisioning steps of an environment
// run and owns the success/failure cleanup split: success tears provisioned
// resources down in reverse, failure preserves everything and prints the
// manual commands to remove it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/buildforge/kindenv/pkg/env"
)

var (
	// ErrDuplicateStep is returned when two steps share a name.
	ErrDuplicateStep = errors.New("duplicate step name")

	// ErrUnknownPredecessor is returned when a step requires a step that does
	// not precede it in the list.
	ErrUnknownPredecessor = errors.New("step requires unknown predecessor")
)

// Teardown is a named cleanup action collected from a completed step. Runs
// are best-effort: a teardown error is reported but never stops the rest.
type Teardown struct {
	Description string
	Run         func(ctx context.Context) error
}

// Step is one provisioning stage of a bootstrap run.
type Step struct {
	// Name identifies the step in output and in Requires lists.
	Name string

	// Requires names the steps that must have run before this one. The
	// driver validates the ordering up front so the dependency graph is
	// inspectable without executing anything.
	Requires []string

	// Run performs the step against the environment. It may return a
	// teardown undoing the step's side effects; nil means nothing to undo.
	Run func(ctx context.Context, environment *env.Environment) (*Teardown, error)

	// ManualCleanup lists the shell commands a human would run to remove
	// this step's resources. Printed, never executed, when a later step
	// fails.
	ManualCleanup []string
}

// validateSteps checks name uniqueness and that every declared predecessor
// appears earlier in the list.
func validateSteps(steps []Step) error {
	seen := make(map[string]bool, len(steps))

	for _, step := range steps {
		if seen[step.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.Name)
		}

		for _, required := range step.Requires {
			if !seen[required] {
				return fmt.Errorf("%w: %s requires %s", ErrUnknownPredecessor, step.Name, required)
			}
		}

		seen[step.Name] = true
	}

	return nil
}
