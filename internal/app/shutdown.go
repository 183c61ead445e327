package app

import (
	"context"

	"clipshare/pkg/state/shutdown"
)

// Shutdown closes the push channels first so long-lived streams end, then
// stops the server, background jobs and the store.
func (a *App) Shutdown(ctx context.Context) error {
	a.state.Store("shutting_down")
	err := shutdown.Run(ctx,
		shutdown.Step{Name: "push_channels", Fn: a.hub.Close},
		shutdown.Step{Name: "http_server", Fn: a.stopHTTP},
		shutdown.Step{Name: "retention", Fn: func(context.Context) error {
			if a.retentionCancel != nil {
				a.retentionCancel()
			}
			return nil
		}},
		shutdown.Step{Name: "sensor", Fn: func(context.Context) error {
			a.hwSensor.Stop()
			return nil
		}},
		shutdown.Step{Name: "gateway", Fn: func(context.Context) error {
			a.gateway.Stop()
			return nil
		}},
		shutdown.Step{Name: "store", Fn: func(context.Context) error { return a.store.Close() }},
	)
	if err == nil {
		a.state.Store("stopped")
	}
	return err
}

func (a *App) stopHTTP(ctx context.Context) error {
	if a.srvFast == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- a.srvFast.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
