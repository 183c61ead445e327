package router

import (
	"testing"

	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(&ctx)
	return &ctx
}

func TestRouterParamsAndMethods(t *testing.T) {
	r := New()
	var got string
	r.GET("/v1/items/{id}/content", func(ctx *fasthttp.RequestCtx) {
		got = ctx.UserValue("id").(string)
	})
	r.POST("/v1/items", func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusCreated) })
	r.NotFound(func(ctx *fasthttp.RequestCtx) { WriteJSONError(ctx, fasthttp.StatusNotFound, "not found") })

	serve(r, "GET", "/v1/items/00ab/content")
	if got != "00ab" {
		t.Fatalf("id param = %q", got)
	}

	if c := serve(r, "POST", "/v1/items/"); c.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("trailing slash: status %d", c.Response.StatusCode())
	}

	c := serve(r, "DELETE", "/v1/items")
	if c.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", c.Response.StatusCode())
	}
	if allow := string(c.Response.Header.Peek("Allow")); allow != "POST" {
		t.Fatalf("Allow = %q", allow)
	}

	if c := serve(r, "GET", "/v1/nothing"); c.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", c.Response.StatusCode())
	}
}
