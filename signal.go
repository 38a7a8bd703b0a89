package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// interruptHandler turns SIGINT/SIGTERM into an orderly stop: the first
// signal runs the registered hooks and then cancels the command context,
// the second exits immediately.
type interruptHandler struct {
	logger *slog.Logger
	exit   func(code int)

	mu    sync.Mutex
	hooks []func()
}

// withInterrupt returns a context canceled on the first interrupt signal
// and the handler to register hooks on.
func withInterrupt(parent context.Context, logger *slog.Logger) (context.Context, *interruptHandler) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, interruptSignals...)

	h := &interruptHandler{logger: logger, exit: os.Exit}

	return h.watch(parent, sigCh, func() { signal.Stop(sigCh) }), h
}

// interruptSignals are the signals withInterrupt listens for.
var interruptSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// OnInterrupt registers fn to run on the first signal, before the context
// is canceled. Hooks run in registration order.
func (h *interruptHandler) OnInterrupt(fn func()) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

func (h *interruptHandler) runHooks() {
	h.mu.Lock()
	hooks := append([]func(){}, h.hooks...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (h *interruptHandler) watch(parent context.Context, sigCh <-chan os.Signal, stop func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer stop()

		select {
		case sig := <-sigCh:
			h.logger.Info("interrupted, stopping",
				slog.String("signal", sig.String()),
			)
			h.runHooks()
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			h.logger.Warn("interrupted again, exiting",
				slog.String("signal", sig.String()),
			)
			h.exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
