package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// WriteJSON writes data as the JSON response body.
func WriteJSON(ctx *fasthttp.RequestCtx, data interface{}) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus is WriteJSON with an explicit status code.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data interface{}) error {
	ctx.SetStatusCode(status)
	return WriteJSON(ctx, data)
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}
