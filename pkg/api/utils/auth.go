package utils

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// ExtractAPIKey returns the X-API-Key header used by backend and admin
// callers.
func ExtractAPIKey(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, "X-API-Key")
}

// SessionCookie carries the session token for browser clients.
const SessionCookie = "clipshare_session"

// ExtractSessionToken returns the token of a signed-in user: the bearer
// header, then ?token= for clients that cannot set headers, such as
// EventSource, then the session cookie.
func ExtractSessionToken(ctx *fasthttp.RequestCtx) string {
	if auth := GetHeader(ctx, "Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	if tok := GetQuery(ctx, "token"); tok != "" {
		return tok
	}
	return string(ctx.Request.Header.Cookie(SessionCookie))
}

// GetUserID returns the X-User-ID header
func GetUserID(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, "X-User-ID")
}

// GetUserSignature returns the X-User-Signature header
func GetUserSignature(ctx *fasthttp.RequestCtx) string {
	return GetHeader(ctx, "X-User-Signature")
}
