package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Not parallel: a second shutdown signal seen by any live handler exits the
// test binary.
func TestShutdownContext_TerminateCancelsDaemon(t *testing.T) {
	ctx, stop := shutdownContext(context.Background(), testLogger(t))
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon context not canceled after SIGTERM")
	}
}

func TestShutdownContext_StopCancelsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx, stop := shutdownContext(context.Background(), testLogger(t))

	stop()
	stop()

	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestShutdownContext_FollowsParent(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())

	ctx, stop := shutdownContext(parent, testLogger(t))
	defer stop()

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon context not canceled with its parent")
	}
}
