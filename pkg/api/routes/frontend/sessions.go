package frontend

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/auth"
	"clipshare/pkg/api/router"
	"clipshare/pkg/api/utils"
	"clipshare/pkg/state/logger"
)

type loginRequest struct {
	UserID    string `json:"userId"`
	Signature string `json:"signature"`
}

type loginResponse struct {
	Token   string    `json:"token"`
	User    string    `json:"user"`
	Expires time.Time `json:"expires"`
}

// Login trades a backend-signed user id for a session token. The id and
// signature come from a JSON body or the X-User-ID and X-User-Signature
// headers.
func (h *Handlers) Login(ctx *fasthttp.RequestCtx) {
	var req loginRequest
	if body := ctx.PostBody(); len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON payload")
			return
		}
	}
	if req.UserID == "" {
		req.UserID = utils.GetUserID(ctx)
		req.Signature = utils.GetUserSignature(ctx)
	}
	if req.UserID == "" || req.Signature == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "missing userId or signature")
		return
	}
	if !auth.VerifyHMACSignature(req.UserID, req.Signature) {
		logger.Warn("login_rejected", "reason", "bad_signature", "remote", ctx.RemoteAddr().String())
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "invalid signature")
		return
	}

	sess, err := h.Store.CreateSession(req.UserID, h.sessionTTL())
	if err != nil {
		logger.Error("session_create_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "could not create session")
		return
	}

	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)
	c.SetKey(utils.SessionCookie)
	c.SetValue(sess.Token)
	c.SetPath("/")
	c.SetExpire(sess.Expires)
	c.SetHTTPOnly(true)
	c.SetSecure(ctx.IsTLS())
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	ctx.Response.Header.SetCookie(c)

	logger.AuditEvent("session_created", "user", sess.User, "token", logger.Token(sess.Token), "expires", sess.Expires)
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, loginResponse{Token: sess.Token, User: sess.User, Expires: sess.Expires})
}

// Logout deletes the caller's session and clears the cookie.
func (h *Handlers) Logout(ctx *fasthttp.RequestCtx) {
	tok := auth.TokenFrom(ctx)
	if err := h.Store.DeleteSession(tok); err != nil {
		logger.Error("session_delete_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "could not delete session")
		return
	}
	ctx.Response.Header.DelClientCookie(utils.SessionCookie)
	logger.AuditEvent("session_deleted", "user", auth.UserFrom(ctx), "token", logger.Token(tok))
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
