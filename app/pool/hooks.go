package pool

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// The shutdown-hook registry replaces atexit/signal-trap chaining: hooks
// run in registration order, and the hosting process decides when, either
// by calling RunShutdownHooks itself or by installing the signal notifier
// below.

var (
	hooksMu sync.Mutex
	hooks   []func()
)

// OnShutdown registers a hook to run when the process shuts down
func OnShutdown(fn func()) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, fn)
}

// RunShutdownHooks runs every registered hook in registration order
func RunShutdownHooks() {
	hooksMu.Lock()
	snapshot := make([]func(), len(hooks))
	copy(snapshot, hooks)
	hooksMu.Unlock()

	for _, fn := range snapshot {
		fn()
	}
}

// NotifySignals runs the shutdown hooks on SIGTERM/SIGINT, then restores
// the default disposition and re-raises the signal so the process still
// terminates normally after cleanup.
func NotifySignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		RunShutdownHooks()
		signal.Reset(sig)
		if sysSig, ok := sig.(syscall.Signal); ok {
			_ = syscall.Kill(syscall.Getpid(), sysSig)
		}
	}()
}
