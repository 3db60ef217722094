package bootstrap

import (
	"context"
	"fmt"

	"github.com/buildforge/kindenv/pkg/env"
	"github.com/buildforge/kindenv/pkg/utils/notify"
	"github.com/buildforge/kindenv/pkg/utils/timer"
)

// Driver executes a validated step list in order.
type Driver struct {
	steps []Step
	timer timer.Timer
}

// NewDriver creates a driver for the given steps. The step list is validated
// once here; an invalid list is a programming error surfaced before any side
// effect happens.
func NewDriver(steps []Step) (*Driver, error) {
	err := validateSteps(steps)
	if err != nil {
		return nil, err
	}

	outputTimer := timer.New()
	outputTimer.Start()

	return &Driver{steps: steps, timer: outputTimer}, nil
}

// Up runs every step in order. On success it returns the collected teardowns
// in run order. On failure it prints the manual cleanup commands for every
// step that ran, removes nothing, and returns the failing step's error.
func (d *Driver) Up(ctx context.Context, environment *env.Environment) ([]Teardown, error) {
	var teardowns []Teardown

	var attempted []Step

	for _, step := range d.steps {
		d.timer.NewStage()
		notify.Activityf(environment.Stdout, "%s", step.Name)

		attempted = append(attempted, step)

		teardown, err := step.Run(ctx, environment)
		if err != nil {
			notify.Errorf(environment.Stderr, "%s failed: %v", step.Name, err)
			d.printManualCleanup(environment, attempted)

			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}

		if teardown != nil {
			teardowns = append(teardowns, *teardown)
		}

		notify.WriteMessage(notify.Message{
			Type:    notify.SuccessType,
			Content: step.Name,
			Timer:   d.timer,
			Writer:  environment.Stdout,
		})
	}

	return teardowns, nil
}

// RunTeardowns executes teardowns in reverse order. Every teardown is
// attempted; failures are reported and counted but never short-circuit.
func (d *Driver) RunTeardowns(
	ctx context.Context,
	environment *env.Environment,
	teardowns []Teardown,
) int {
	failures := 0

	for i := len(teardowns) - 1; i >= 0; i-- {
		teardown := teardowns[i]

		notify.Activityf(environment.Stdout, "%s", teardown.Description)

		err := teardown.Run(ctx)
		if err != nil {
			failures++

			notify.Warningf(environment.Stderr, "%s failed: %v", teardown.Description, err)

			continue
		}

		notify.Successf(environment.Stdout, "%s", teardown.Description)
	}

	return failures
}

// printManualCleanup emits the manual removal commands for every attempted
// step, newest first, so the reader undoes resources in reverse creation
// order.
func (d *Driver) printManualCleanup(environment *env.Environment, attempted []Step) {
	notify.Warningf(
		environment.Stderr,
		"environment preserved for inspection; remove it manually with:",
	)

	for i := len(attempted) - 1; i >= 0; i-- {
		for _, command := range attempted[i].ManualCleanup {
			notify.Infof(environment.Stderr, "  %s", command)
		}
	}
}
