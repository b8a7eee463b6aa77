package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownSignals stop the daemon: SIGTERM from a service manager, SIGINT
// from an interactive run.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// shutdownContext derives the daemon lifetime from parent. The first
// shutdown signal cancels it, which makes the registry cancel in-flight
// checks and flush queued counter writes, and closes websocket
// connections. A second signal exits immediately, for when a fetch or the
// database does not let go. stop releases the signal handler; it is
// idempotent.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, shutdownSignals...)

	quit := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down: canceling checks and flushing counters",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		case <-quit:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, exiting without waiting for counters to flush",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-quit:
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			cancel()
			close(quit)
		})
	}
}

// sighupChannel returns a channel receiving SIGHUP and a function that
// stops delivery.
func sighupChannel() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	return ch, func() { signal.Stop(ch) }
}
