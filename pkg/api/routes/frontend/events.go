package frontend

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"clipshare/pkg/api/auth"
	"clipshare/pkg/api/router"
	"clipshare/pkg/api/utils"
	"clipshare/pkg/envelope"
	"clipshare/pkg/hub"
	"clipshare/pkg/state/logger"
	"clipshare/pkg/store"
)

var errStreamClosed = errors.New("push stream closed")

// sseSink writes events onto one event-stream response. Only the
// subscriber's sequencer writes to it.
type sseSink struct {
	w    *bufio.Writer
	conn net.Conn

	// ids written as history; a live copy of one of them is skipped once
	sent   map[string]struct{}
	closed atomic.Bool
}

func (s *sseSink) write(ctx context.Context, fn func(w io.Writer) error) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	if d, ok := ctx.Deadline(); ok && s.conn != nil {
		_ = s.conn.SetWriteDeadline(d)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := fn(s.w); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *sseSink) Send(ctx context.Context, it envelope.Item) error {
	if _, dup := s.sent[it.ItemID()]; dup {
		delete(s.sent, it.ItemID())
		return nil
	}
	return s.write(ctx, func(w io.Writer) error { return envelope.WriteItem(w, it) })
}

// sendHistory writes it and remembers its id, since an upload committed
// while the history was read is also published live.
func (s *sseSink) sendHistory(ctx context.Context, it envelope.Item) error {
	if err := s.write(ctx, func(w io.Writer) error { return envelope.WriteItem(w, it) }); err != nil {
		return err
	}
	if s.sent == nil {
		s.sent = make(map[string]struct{})
	}
	s.sent[it.ItemID()] = struct{}{}
	return nil
}

func (s *sseSink) Close() error {
	s.closed.Store(true)
	return nil
}

// Events is the server-sent event channel: a hello event carrying the
// session token, the user's recent history, then live items as they are
// uploaded. ?after= or Last-Event-ID resumes after a given item.
func (h *Handlers) Events(ctx *fasthttp.RequestCtx) {
	user := auth.UserFrom(ctx)
	token := auth.TokenFrom(ctx)
	after := utils.GetQuery(ctx, "after")
	if after == "" {
		after = utils.GetHeader(ctx, "Last-Event-ID")
	}
	if after != "" {
		if _, err := store.ParseID(after); err != nil {
			router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid item id")
			return
		}
	}

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	conn := ctx.Conn()
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		sink := &sseSink{w: w, conn: conn}
		greet := func(gctx context.Context, _ hub.Sink) error {
			if err := sink.write(gctx, func(w io.Writer) error { return envelope.WriteHello(w, token) }); err != nil {
				return err
			}
			// history is read after the subscription is live so nothing
			// uploaded in between is missed
			recs, err := h.Store.ListItems(user, h.historyLimit(), after)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := sink.sendHistory(gctx, rec.Item()); err != nil {
					return err
				}
			}
			return nil
		}
		sub, err := h.Hub.Subscribe(user, sink, greet)
		if err != nil {
			logger.Warn("events_subscribe_failed", "error", err)
			return
		}
		logger.Debug("events_stream_opened", "subscriber", sub.ID)
		h.pump(sub, func(kctx context.Context) error {
			return sink.write(kctx, func(w io.Writer) error { return envelope.WriteComment(w, "ping") })
		})
		sink.Close()
		h.leave(sub)
		logger.Debug("events_stream_closed", "subscriber", sub.ID, "error", sub.Err())
	})
}

// pump sends keep-alives through the subscriber's queue until it leaves
// the hub or a keep-alive fails.
func (h *Handlers) pump(sub *hub.Subscriber, ping func(ctx context.Context) error) {
	t := time.NewTicker(h.keepAlive())
	defer t.Stop()
	for {
		select {
		case <-sub.Done():
			return
		case <-t.C:
			kctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout())
			err := sub.Do(kctx, func(ctx context.Context, _ hub.Sink) error { return ping(ctx) })
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// leave removes sub from the hub and waits for its in-flight write.
func (h *Handlers) leave(sub *hub.Subscriber) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout()+time.Second)
	defer cancel()
	if err := h.Hub.Unsubscribe(ctx, sub); err != nil {
		logger.Warn("unsubscribe_timeout", "subscriber", sub.ID, "error", err)
	}
}
