package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"clipshare/internal/retention"
	"clipshare/pkg/api/auth"
	"clipshare/pkg/config"
	"clipshare/pkg/hub"
	"clipshare/pkg/state"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/state/sensor"
	"clipshare/pkg/store"
)

// app groups server state and components.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string
	paths     state.Paths

	store           *store.Store
	hub             *hub.Hub
	hwSensor        *sensor.Sensor
	retention       *retention.Manager
	retentionCancel context.CancelFunc
	gateway         *auth.Gateway

	srvFast *fasthttp.Server
	handler fasthttp.RequestHandler
	state   atomic.Value // string
}

// new sets up resources that don't need a running context (db, validation,
// runtime keys). call run to start the background jobs and the http server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	// validate config and fail fast if not valid
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	// setup runtime keys
	config.SetRuntime(config.NewRuntime(cfg))

	paths := state.PathsFor(eff.DBPath)
	if err := state.EnsureStateDirs(paths); err != nil {
		return nil, fmt.Errorf("state directories: %w", err)
	}
	if cfg.Logging.Audit {
		if err := logger.AttachAuditLogger(paths.Logs); err != nil {
			logger.Warn("audit_log_unavailable", "error", err)
		}
	}
	logger.LogConfigSummary("config_limits_summary", []string{
		fmt.Sprintf("upload_max_size: %s", humanize.IBytes(uint64(cfg.Uploads.MaxSize.Int64()))),
		fmt.Sprintf("history_limit: %s", humanize.Comma(int64(cfg.Uploads.HistoryLimit))),
		fmt.Sprintf("session_ttl: %s", cfg.Sessions.TTL.Duration()),
		fmt.Sprintf("push_write_timeout: %s", cfg.Push.WriteTimeout.Duration()),
		fmt.Sprintf("push_max_pending: %s", humanize.Comma(int64(cfg.Push.MaxPending))),
	})

	st, err := store.Open(paths.Store, store.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", paths.Store, err)
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		paths:     paths,
		store:     st,
		hub:       hub.New(hub.Options{WriteTimeout: cfg.Push.WriteTimeout.Duration(), MaxPending: cfg.Push.MaxPending}),
		hwSensor:  sensor.NewSensor(sensor.FromConfig(cfg.Sensor), sensor.HostSampler(paths.Store)),
		retention: retention.New(cfg.Retention, st, paths.Retention),
		gateway:   auth.NewGateway(auth.SecConfigFrom(cfg), st),
	}
	a.handler = a.buildHandler()
	a.state.Store("initialized")
	return a, nil
}

// run starts the sensor, the retention schedule and the http server, and
// blocks until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	a.hwSensor.Start()
	a.retentionCancel = a.retention.Start(ctx)

	errCh := a.startHTTP()
	a.state.Store("running")
	logger.Info("server_listening", "addr", a.eff.Addr, "tls", a.eff.Config.Server.TLS.CertFile != "")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
