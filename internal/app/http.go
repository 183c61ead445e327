package app

import (
	"os"
	"time"

	"github.com/valyala/fasthttp"

	"clipshare/pkg/api"
	"clipshare/pkg/api/router"
	adminRoutes "clipshare/pkg/api/routes/admin"
	frontendRoutes "clipshare/pkg/api/routes/frontend"
	"clipshare/pkg/config/banner"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(os.Stdout, a.eff, verStr)
}

// readyzHandlerFast reports whether the store is open and the app is not
// shutting down.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	st, _ := a.state.Load().(string)
	if !a.store.Ready() || st == "shutting_down" || st == "stopped" {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		_, _ = ctx.WriteString("{\"status\":\"not ready\"}")
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.WriteString("{\"status\":\"ok\",\"version\":\"" + ver + "\"}")
}

// healthzHandlerFast handles the /healthz endpoint.
func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.WriteString("{\"status\":\"ok\"}")
}

// buildHandler assembles router, auth gateway and metrics.
func (a *App) buildHandler() fasthttp.RequestHandler {
	r := router.New()
	r.GET("/healthz", a.healthzHandlerFast)
	r.GET("/readyz", a.readyzHandlerFast)

	api.RegisterRoutes(r, api.Deps{
		Frontend: frontendRoutes.NewHandlers(a.eff.Config, a.store, a.hub, a.hwSensor),
		Jobs:     &adminRoutes.Jobs{Retention: a.retention},
	})
	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})

	return api.Instrument(a.gateway.Wrap(r.Handler))
}

// startHTTP builds and starts the fasthttp server, returning a channel that delivers errors.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config
	const (
		readBufferSize = 64 * 1024        // 64 KiB read buffer per connection
		bodySlack      = 64 * 1024        // framing around the largest upload
		readTimeout    = 60 * time.Second // large uploads on slow links
		idleTimeout    = 60 * time.Second
	)
	a.srvFast = &fasthttp.Server{
		Name:               "clipshare",
		Handler:            a.handler,
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: int(cfg.Uploads.MaxSize.Int64()) + bodySlack,
		ReadTimeout:        readTimeout,
		// push streams stay open indefinitely; their handlers set a
		// deadline on every write instead
		WriteTimeout:    0,
		IdleTimeout:     idleTimeout,
		CloseOnShutdown: true,
	}

	errCh := make(chan error, 1)
	go func() {
		tls := cfg.Server.TLS
		if tls.CertFile != "" {
			errCh <- a.srvFast.ListenAndServeTLS(a.eff.Addr, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.srvFast.ListenAndServe(a.eff.Addr)
	}()
	return errCh
}
