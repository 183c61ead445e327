package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

// Router dispatches by method and path. Paths may hold {name} segments,
// exposed to handlers as user values.
type Router struct {
	routes   map[string][]route
	notFound fasthttp.RequestHandler
}

type route struct {
	pattern  string
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Handler is the fasthttp entry point.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	if rt, values, ok := r.lookup(string(ctx.Method()), path); ok {
		for k, v := range values {
			ctx.SetUserValue(k, v)
		}
		ctx.SetUserValue(RouteKey, rt.pattern)
		rt.handler(ctx)
		return
	}
	if allowed := r.allowed(path); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

// RouteKey is the user value holding the matched pattern, used as a metrics
// label.
const RouteKey = "route"

func (r *Router) GET(path string, h fasthttp.RequestHandler)    { r.Handle(fasthttp.MethodGet, path, h) }
func (r *Router) POST(path string, h fasthttp.RequestHandler)   { r.Handle(fasthttp.MethodPost, path, h) }
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) { r.Handle(fasthttp.MethodDelete, path, h) }

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// Handle registers h for method and path.
func (r *Router) Handle(method, path string, h fasthttp.RequestHandler) {
	r.routes[method] = append(r.routes[method], route{pattern: path, segments: parse(path), handler: h})
}

func (r *Router) lookup(method, path string) (route, map[string]string, bool) {
	for _, rt := range r.routes[method] {
		if values, ok := match(path, rt.segments); ok {
			return rt, values, true
		}
	}
	return route{}, nil, false
}

func (r *Router) allowed(path string) []string {
	var out []string
	for method := range r.routes {
		if _, _, ok := r.lookup(method, path); ok {
			out = append(out, method)
		}
	}
	sort.Strings(out)
	return out
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parse(path string) []segment {
	parts := split(path)
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if len(part) > 2 && strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	parts := split(path)
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
