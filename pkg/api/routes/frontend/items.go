package frontend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"

	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/auth"
	"clipshare/pkg/api/router"
	"clipshare/pkg/api/utils"
	"clipshare/pkg/envelope"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/store"
)

// Upload stores one item and pushes it to every live connection of the
// user. The body is either raw content, named by ?name= and typed by
// Content-Type, or a framed upload whose first line is a base64 header.
func (h *Handlers) Upload(ctx *fasthttp.RequestCtx) {
	if h.diskFull() {
		router.WriteJSONError(ctx, fasthttp.StatusInsufficientStorage, "insufficient storage")
		return
	}

	user := auth.UserFrom(ctx)
	var hdr envelope.UploadHeader
	var body io.Reader
	if string(ctx.Request.Header.ContentType()) == envelope.UploadFramedType {
		br := bufio.NewReader(bytes.NewReader(ctx.PostBody()))
		var err error
		hdr, err = envelope.ReadUploadHeader(br)
		if err != nil {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		body = br
		if user == "" {
			sess, err := h.Store.ResolveSession(hdr.Token)
			if err != nil {
				router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
				return
			}
			auth.SetSession(ctx, sess)
			user = sess.User
		}
		hdr.Token = ""
	} else {
		hdr = envelope.UploadHeader{
			Name: utils.GetQuery(ctx, "name"),
			Type: string(ctx.Request.Header.ContentType()),
		}
		body = bytes.NewReader(ctx.PostBody())
	}
	if user == "" {
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
		return
	}
	if hdr.Name == "" && !hdr.IsClipboard() {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "missing file name")
		return
	}

	it, err := h.save(user, hdr, body)
	switch {
	case errors.Is(err, store.ErrTooLarge):
		router.WriteJSONError(ctx, fasthttp.StatusRequestEntityTooLarge, "upload too large")
		return
	case err != nil:
		logger.Error("upload_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "could not store upload")
		return
	}

	b, err := envelope.Encode(it)
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// save saves an upload and publishes it. Both the HTTP and websocket
// upload paths end here.
func (h *Handlers) save(user string, hdr envelope.UploadHeader, body io.Reader) (envelope.Item, error) {
	// a user's items are committed and published in id order, which the
	// ?after= resume and the push order both rely on
	mu := h.uploadLock(user)
	mu.Lock()
	defer mu.Unlock()

	rec, err := h.Store.PutItem(user, hdr, body, h.MaxUpload)
	if err != nil {
		return nil, err
	}
	it := rec.Item()
	n := h.Hub.Publish(user, it)
	logger.Info("item_uploaded", "id", rec.ID, "type", rec.Type, "size", rec.Size, "connections", n)
	return it, nil
}

type listResponse struct {
	Items []json.RawMessage `json:"items"`
}

// ListItems returns the user's recent items, oldest first. ?after= returns
// only items newer than that id.
func (h *Handlers) ListItems(ctx *fasthttp.RequestCtx) {
	limit := utils.GetQueryInt(ctx, "limit", h.historyLimit())
	if limit <= 0 || limit > h.historyLimit() {
		limit = h.historyLimit()
	}
	recs, err := h.Store.ListItems(auth.UserFrom(ctx), limit, utils.GetQuery(ctx, "after"))
	if err != nil {
		logger.Error("list_items_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "could not list items")
		return
	}
	out := listResponse{Items: make([]json.RawMessage, 0, len(recs))}
	for _, rec := range recs {
		b, err := envelope.Encode(rec.Item())
		if err != nil {
			logger.Warn("item_encode_failed", "id", rec.ID, "error", err)
			continue
		}
		out.Items = append(out.Items, b)
	}
	_ = router.WriteJSON(ctx, out)
}

// ItemContent downloads the blob of one item.
func (h *Handlers) ItemContent(ctx *fasthttp.RequestCtx) {
	rec, body, err := h.Store.GetBlob(auth.UserFrom(ctx), utils.GetPathParam(ctx, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "item not found")
		return
	case err != nil:
		logger.Error("get_blob_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "could not read item")
		return
	}

	typ := rec.Type
	if typ == envelope.ClipboardType {
		typ = "text/plain; charset=utf-8"
	}
	ctx.SetContentType(typ)
	if rec.Name != "" {
		ctx.Response.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Name}))
	}
	ctx.Response.Header.Set("Cache-Control", "private, max-age=0")
	ctx.SetBody(body)
}
