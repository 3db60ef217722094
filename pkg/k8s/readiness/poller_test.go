package readiness_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/buildforge/kindenv/pkg/k8s/readiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPollBoom = errors.New("boom")

func TestPollForReadinessReturnsNilWhenReady(t *testing.T) {
	t.Parallel()

	err := readiness.PollForReadiness(
		context.Background(),
		time.Second,
		func(context.Context) (bool, error) { return true, nil },
	)

	require.NoError(t, err)
}

func TestPollForReadinessWrapsCheckErrors(t *testing.T) {
	t.Parallel()

	err := readiness.PollForReadiness(
		context.Background(),
		time.Second,
		func(context.Context) (bool, error) { return false, errPollBoom },
	)

	require.ErrorIs(t, err, errPollBoom)
	assert.Contains(t, err.Error(), "failed to poll for readiness")
}

func TestPollForReadinessTimesOut(t *testing.T) {
	t.Parallel()

	start := time.Now()

	err := readiness.PollForReadinessEvery(
		context.Background(),
		10*time.Millisecond,
		50*time.Millisecond,
		func(context.Context) (bool, error) { return false, nil },
	)

	require.ErrorIs(t, err, readiness.ErrTimeoutExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPollForReadinessEventuallyReady(t *testing.T) {
	t.Parallel()

	attempts := 0

	err := readiness.PollForReadinessEvery(
		context.Background(),
		5*time.Millisecond,
		time.Second,
		func(context.Context) (bool, error) {
			attempts++

			return attempts >= 3, nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPollForReadinessHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := readiness.PollForReadinessEvery(
		ctx,
		5*time.Millisecond,
		time.Second,
		func(context.Context) (bool, error) { return false, nil },
	)

	require.Error(t, err)
	require.NotErrorIs(t, err, readiness.ErrTimeoutExceeded)
}
