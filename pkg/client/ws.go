package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"clipshare/pkg/envelope"
	"clipshare/pkg/pushchan"
	"clipshare/pkg/state/logger"
)

// wsChannel is the session's websocket. It is dialed by the first upload
// and only ever written from sequencer operations, so frames of two uploads
// never interleave.
type wsChannel struct {
	session *Session
	dialer  *websocket.Dialer
	onPush  pushchan.Handler

	mu     sync.Mutex
	conn   *websocket.Conn
	stream *pushchan.WSStream
}

func (w *wsChannel) url() string {
	u := *w.session.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/ws"
	if w.session.codec != envelope.JSON {
		u.RawQuery = "codec=" + w.session.codec.Name()
	}
	return u.String()
}

// connect returns the open connection, dialing it on first use.
func (w *wsChannel) connect(ctx context.Context) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return w.conn, nil
	}
	if w.session.closing() {
		return nil, errors.New("session logged out")
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+w.session.token)
	conn, resp, err := w.dialer.DialContext(ctx, w.url(), hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	w.conn = conn
	var binary envelope.Codec
	if w.session.codec != envelope.JSON {
		binary = w.session.codec
	}
	w.stream = pushchan.NewWSStream(conn, nil, binary)
	go w.listen(w.stream)
	logger.Debug("client_ws_connected", "user", w.session.user)
	return conn, nil
}

// listen delivers pushed items until the socket ends. A socket that ends
// while the session is still open takes the channel down with it.
func (w *wsChannel) listen(stream *pushchan.WSStream) {
	h := w.onPush
	if h == nil {
		h = func(context.Context, envelope.Item) error { return nil }
	}
	err := pushchan.Listen(context.Background(), stream, h)
	if w.session.closing() {
		return
	}
	if err == nil {
		err = errors.New("closed by server")
	}
	logger.Warn("client_ws_lost", "user", w.session.user, "error", err)
	w.session.seq.Fail(fmt.Errorf("websocket closed: %w", err))
	w.close()
}

// upload writes the header frame and the body frame. A failed write leaves
// the socket in an unknown state, so it fails the channel.
func (w *wsChannel) upload(ctx context.Context, hdr envelope.UploadHeader, body []byte) error {
	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(d)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if err = conn.WriteMessage(websocket.TextMessage, b); err == nil {
		err = conn.WriteMessage(websocket.BinaryMessage, body)
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		err = fmt.Errorf("write upload %q: %w", hdr.Name, err)
		w.session.seq.Fail(err)
		w.close()
		return err
	}
	return nil
}

// close sends a close frame and drops the connection. It is safe to call
// more than once.
func (w *wsChannel) close() {
	w.mu.Lock()
	conn, stream := w.conn, w.stream
	w.conn, w.stream = nil, nil
	w.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"), time.Now().Add(time.Second))
	stream.Close()
	_ = conn.Close()
}
