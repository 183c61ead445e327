package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"clipshare/pkg/state/logger"
)

// Step is one named stage of an orderly shutdown.
type Step struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Run executes steps in order. Every step runs even when an earlier one
// fails; the errors are joined.
func Run(ctx context.Context, steps ...Step) error {
	logger.Info("shutdown_requested")
	var errs []error
	for _, s := range steps {
		if s.Fn == nil {
			continue
		}
		logger.Info("shutdown_step", "step", s.Name)
		if err := s.Fn(ctx); err != nil {
			logger.Error("shutdown_step_failed", "step", s.Name, "error", err)
			errs = append(errs, err)
		}
	}
	logger.Info("shutdown_complete")
	return errors.Join(errs...)
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a context cancelled when any of them arrives.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	// SIGPIPE dumps goroutine stacks to aid diagnostics
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}
