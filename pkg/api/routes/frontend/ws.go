package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/auth"
	"clipshare/pkg/api/router"
	"clipshare/pkg/api/utils"
	"clipshare/pkg/envelope"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/store"
)

// wsAuthTimeout bounds the wait for the token frame of an unauthenticated
// socket.
const wsAuthTimeout = 10 * time.Second

// wsSink writes items as websocket messages in the negotiated codec.
type wsSink struct {
	conn   *websocket.Conn
	codec  envelope.Codec
	closed atomic.Bool
}

func (s *wsSink) Send(ctx context.Context, it envelope.Item) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	b, err := s.codec.Marshal(it)
	if err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(d)
	}
	mt := websocket.TextMessage
	if s.codec == envelope.Msgpack {
		mt = websocket.BinaryMessage
	}
	return s.conn.WriteMessage(mt, b)
}

func (s *wsSink) ping(ctx context.Context) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	d, ok := ctx.Deadline()
	if !ok {
		d = time.Now().Add(defaultWriteTimeout)
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, d)
}

func (s *wsSink) Close() error {
	s.closed.Store(true)
	return nil
}

// WS is the websocket channel. The server pushes every new item of the
// user; the client uploads with a text frame holding the upload header
// followed by one frame holding the body. Uploads are not acknowledged
// separately: the sender receives its own item like every other connection.
// A socket opened without a token must send it as its first text frame.
func (h *Handlers) WS(ctx *fasthttp.RequestCtx) {
	codec := envelope.JSON
	if name := utils.GetQuery(ctx, "codec"); name != "" {
		c, err := envelope.CodecByName(name)
		if err != nil {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		codec = c
	}
	user := auth.UserFrom(ctx)
	host := string(ctx.Host())

	up := websocket.FastHTTPUpgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
			return h.originAllowed(string(ctx.Request.Header.Peek("Origin")), host)
		},
	}
	err := up.Upgrade(ctx, func(conn *websocket.Conn) {
		h.serveWS(conn, user, codec)
	})
	if err != nil {
		logger.Warn("ws_upgrade_failed", "error", err)
	}
}

func (h *Handlers) serveWS(conn *websocket.Conn, user string, codec envelope.Codec) {
	defer conn.Close()
	if h.MaxUpload > 0 {
		conn.SetReadLimit(h.MaxUpload + 4096)
	}

	if user == "" {
		u, err := h.authenticateWS(conn)
		if err != nil {
			logger.Warn("ws_auth_failed", "error", err)
			closeWS(conn, websocket.ClosePolicyViolation, "unauthorized")
			return
		}
		user = u
	}

	sink := &wsSink{conn: conn, codec: codec}
	sub, err := h.Hub.Subscribe(user, sink, nil)
	if err != nil {
		closeWS(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	logger.Debug("ws_opened", "subscriber", sub.ID, "codec", codec.Name())

	readDone := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.pump(sub, sink.ping)
	}()
	go func() {
		defer close(readDone)
		h.readUploads(conn, user)
	}()

	select {
	case <-readDone:
	case <-sub.Done():
		// unblock the reader
		_ = conn.SetReadDeadline(time.Now())
		<-readDone
	}
	sink.Close()
	h.leave(sub)
	<-pumpDone
	logger.Debug("ws_closed", "subscriber", sub.ID, "error", sub.Err())
}

// authenticateWS reads the token frame.
func (h *Handlers) authenticateWS(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	if mt != websocket.TextMessage {
		return "", errors.New("expected token frame")
	}
	sess, err := h.Store.ResolveSession(strings.TrimSpace(string(msg)))
	if err != nil {
		return "", err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return sess.User, nil
}

// readUploads handles header and body frame pairs until the socket closes
// or a frame is invalid.
func (h *Handlers) readUploads(conn *websocket.Conn, user string) {
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws_read_failed", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			closeWS(conn, websocket.CloseUnsupportedData, "expected upload header")
			return
		}
		var hdr envelope.UploadHeader
		if err := json.Unmarshal(msg, &hdr); err != nil {
			closeWS(conn, websocket.CloseInvalidFramePayloadData, "malformed upload header")
			return
		}
		hdr.Token = ""

		_, body, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("ws_upload_body_failed", "error", err)
			return
		}
		if h.diskFull() {
			closeWS(conn, websocket.CloseTryAgainLater, "insufficient storage")
			return
		}
		if _, err := h.save(user, hdr, bytes.NewReader(body)); err != nil {
			if errors.Is(err, store.ErrTooLarge) {
				closeWS(conn, websocket.CloseMessageTooBig, "upload too large")
				return
			}
			logger.Error("ws_upload_failed", "error", err)
			closeWS(conn, websocket.CloseInternalServerErr, "could not store upload")
			return
		}
	}
}

func closeWS(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
