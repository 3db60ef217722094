package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

func TestWaitForShutdownReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		waitForShutdown(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waitForShutdown did not return after context cancellation")
	}
}

func TestWaitForShutdownReturnsOnTermSignal(t *testing.T) {
	// Registering our own handler first keeps the default SIGTERM action
	// disabled for the whole test, whatever the goroutine timing.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGTERM)
	defer signal.Stop(guard)

	done := make(chan struct{})

	go func() {
		waitForShutdown(context.Background())
		close(done)
	}()

	// Give the goroutine a moment to register the signal handler, then
	// signal ourselves. The handler swallows the signal, so the test
	// process survives.
	time.Sleep(50 * time.Millisecond)

	err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("failed to signal own process: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waitForShutdown did not return after SIGTERM")
	}
}
