package api

import (
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"clipshare/pkg/api/router"
	adminRoutes "clipshare/pkg/api/routes/admin"
	backendRoutes "clipshare/pkg/api/routes/backend"
	frontendRoutes "clipshare/pkg/api/routes/frontend"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipshare_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipshare_http_request_duration_seconds",
			Help:    "Time spent in request handlers. Push streams are measured until the stream starts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration)
}

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// Deps are the handler sets the routes dispatch to.
type Deps struct {
	Frontend *frontendRoutes.Handlers
	Jobs     *adminRoutes.Jobs
}

// RegisterRoutes wires all API routes onto the provided router.
func RegisterRoutes(r *router.Router, d Deps) {
	// backend
	r.POST("/v1/sign", backendRoutes.Sign)

	// sessions
	r.POST("/v1/sessions", d.Frontend.Login)
	r.DELETE("/v1/sessions", d.Frontend.Logout)

	// items
	r.POST("/v1/items", d.Frontend.Upload)
	r.GET("/v1/items", d.Frontend.ListItems)
	r.GET("/v1/items/{id}/content", d.Frontend.ItemContent)

	// push channels
	r.GET("/v1/events", d.Frontend.Events)
	r.GET("/v1/ws", d.Frontend.WS)

	// admin debug routes
	r.GET("/admin/debug/prometheus", wrapHTTPHandler(promhttp.Handler()))
	r.GET("/admin/debug/pprof/", wrapHTTPHandler(http.HandlerFunc(pprof.Index)))
	r.GET("/admin/debug/pprof/cmdline", wrapHTTPHandler(http.HandlerFunc(pprof.Cmdline)))
	r.GET("/admin/debug/pprof/profile", wrapHTTPHandler(http.HandlerFunc(pprof.Profile)))
	r.GET("/admin/debug/pprof/symbol", wrapHTTPHandler(http.HandlerFunc(pprof.Symbol)))
	r.GET("/admin/debug/pprof/trace", wrapHTTPHandler(http.HandlerFunc(pprof.Trace)))

	// admin job routes
	r.POST("/admin/jobs/cleanup", d.Jobs.RunRetentionCleanup)
}

// Instrument records request counts and handler latency per route.
func Instrument(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		route, _ := ctx.UserValue(router.RouteKey).(string)
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(string(ctx.Method()), route, strconv.Itoa(ctx.Response.StatusCode())).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
