package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/auth"
	"clipshare/pkg/config"
	"clipshare/pkg/store"
)

func signRequest(t *testing.T, role auth.Role, key, body string) *fasthttp.RequestCtx {
	t.Helper()
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.Header.Set("X-API-Key", key)
	ctx.Request.SetBodyString(body)
	if role == auth.RoleUser {
		auth.SetSession(&ctx, store.Session{User: "alice", Token: "t"})
	} else if role == auth.RoleBackend {
		markBackend(&ctx)
	}
	Sign(&ctx)
	return &ctx
}

func markBackend(ctx *fasthttp.RequestCtx) {
	g := auth.NewGateway(auth.SecConfig{BackendKeys: map[string]struct{}{"sk_one": {}, "sk_two": {}}}, nil)
	defer g.Stop()
	ctx.Request.SetRequestURI("/v1/sign")
	g.Wrap(func(*fasthttp.RequestCtx) {})(ctx)
}

func TestSign(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.APIKeys.Backend = []string{"sk_one", "sk_two"}
	config.SetRuntime(config.NewRuntime(cfg))
	t.Cleanup(func() { config.SetRuntime(nil) })

	ctx := signRequest(t, auth.RoleBackend, "sk_two", `{"userId":"alice"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var out map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	require.Equal(t, "alice", out["userId"])
	require.Equal(t, auth.CreateHMACSignature("alice", "sk_two"), out["signature"])
	require.True(t, auth.VerifyHMACSignature("alice", out["signature"]))
}

func TestSignRejects(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.APIKeys.Backend = []string{"sk_one"}
	config.SetRuntime(config.NewRuntime(cfg))
	t.Cleanup(func() { config.SetRuntime(nil) })

	require.Equal(t, fasthttp.StatusForbidden, signRequest(t, auth.RoleUser, "", `{"userId":"alice"}`).Response.StatusCode())
	require.Equal(t, fasthttp.StatusBadRequest, signRequest(t, auth.RoleBackend, "sk_one", `nope`).Response.StatusCode())
	require.Equal(t, fasthttp.StatusBadRequest, signRequest(t, auth.RoleBackend, "sk_one", `{"userId":""}`).Response.StatusCode())
	require.Equal(t, fasthttp.StatusBadRequest, signRequest(t, auth.RoleBackend, "sk_one", `{"userId":"a b"}`).Response.StatusCode())
}
