package auth

import (
	"errors"
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/router"
	"clipshare/pkg/api/utils"
	"clipshare/pkg/envelope"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/store"
)

// Gateway authenticates every request before it reaches the router.
type Gateway struct {
	cfg      SecConfig
	sessions SessionResolver
	limiters *limiterPool
}

func NewGateway(cfg SecConfig, sessions SessionResolver) *Gateway {
	return &Gateway{cfg: cfg, sessions: sessions, limiters: newLimiterPool(cfg.RPS, cfg.Burst)}
}

// Stop releases the limiter cleanup goroutine.
func (g *Gateway) Stop() { g.limiters.Stop() }

// Wrap applies CORS, the IP whitelist, authentication, route restrictions
// and rate limiting, in that order.
func (g *Gateway) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		origin := utils.GetHeader(ctx, "Origin")
		if origin != "" && originAllowed(origin, g.cfg.AllowedOrigins) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			ctx.Response.Header.Set("Access-Control-Max-Age", "600")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		// ip whitelist runs before every other check
		if len(g.cfg.IPWhitelist) > 0 {
			ip := clientIP(ctx)
			if !ipWhitelisted(ip, g.cfg.IPWhitelist) {
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", utils.GetPath(ctx))
				router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
				return
			}
		}

		if publicPath(ctx) {
			if !g.limiters.Allow("ip:" + clientIP(ctx)) {
				router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next(ctx)
			return
		}

		role, limitKey, status, msg := g.authenticate(ctx)
		if role == RoleUnauth {
			logger.Warn("request_unauthorized", "path", utils.GetPath(ctx), "remote", ctx.RemoteAddr().String(), "reason", msg)
			router.WriteJSONError(ctx, status, msg)
			return
		}
		ctx.SetUserValue(roleKey, role)

		if ok, why := routeAllowed(role, utils.GetPath(ctx)); !ok {
			logger.Warn("request_forbidden", "role", role.String(), "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusForbidden, why)
			return
		}

		if !g.limiters.Allow(limitKey) {
			logger.Warn("rate_limited", "role", role.String(), "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(ctx)
	}
}

// authenticate resolves the caller from an API key or a session token.
func (g *Gateway) authenticate(ctx *fasthttp.RequestCtx) (role Role, limitKey string, status int, msg string) {
	if key := utils.ExtractAPIKey(ctx); key != "" {
		if _, ok := g.cfg.AdminKeys[key]; ok {
			return RoleAdmin, "key:" + key, 0, ""
		}
		if _, ok := g.cfg.BackendKeys[key]; ok {
			return RoleBackend, "key:" + key, 0, ""
		}
		return RoleUnauth, "", fasthttp.StatusUnauthorized, "invalid api key"
	}

	tok := utils.ExtractSessionToken(ctx)
	if tok == "" || g.sessions == nil {
		return RoleUnauth, "", fasthttp.StatusUnauthorized, "unauthorized"
	}
	sess, err := g.sessions.ResolveSession(tok)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSessionExpired):
		return RoleUnauth, "", fasthttp.StatusUnauthorized, "session expired"
	case errors.Is(err, store.ErrNotFound):
		return RoleUnauth, "", fasthttp.StatusUnauthorized, "unauthorized"
	default:
		logger.Error("session_resolve_failed", "error", err)
		return RoleUnauth, "", fasthttp.StatusServiceUnavailable, "session lookup failed"
	}
	SetSession(ctx, sess)
	return RoleUser, "user:" + sess.User, 0, ""
}

// routeAllowed keeps each role to its own surface: backend keys only sign,
// admin keys only reach /admin, users reach the rest of /v1.
func routeAllowed(role Role, path string) (bool, string) {
	admin := strings.HasPrefix(path, "/admin")
	sign := path == "/v1/sign"
	switch role {
	case RoleAdmin:
		if !admin {
			return false, "admin api keys may only access /admin routes"
		}
	case RoleBackend:
		if !sign {
			return false, "backend api keys may only sign users"
		}
	case RoleUser:
		if admin || sign {
			return false, "forbidden"
		}
	}
	return true, ""
}

// publicPath lists what needs no credentials here. Login checks the user
// signature itself; the websocket and framed uploads carry their token in
// the payload.
func publicPath(ctx *fasthttp.RequestCtx) bool {
	path := utils.GetPath(ctx)
	method := string(ctx.Method())
	switch {
	case (path == "/healthz" || path == "/readyz") && method == fasthttp.MethodGet:
		return true
	case path == "/v1/sessions" && method == fasthttp.MethodPost:
		return true
	case path == "/v1/ws" && method == fasthttp.MethodGet && utils.ExtractSessionToken(ctx) == "":
		return true
	case path == "/v1/items" && method == fasthttp.MethodPost && utils.ExtractSessionToken(ctx) == "" &&
		string(ctx.Request.Header.ContentType()) == envelope.UploadFramedType:
		// the token travels in the framed header line
		return true
	}
	return false
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}
