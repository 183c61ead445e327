// Package pushchan reads items a server pushes to a client session.
package pushchan

import (
	"context"
	"errors"
	"io"

	"clipshare/pkg/envelope"
	"clipshare/pkg/state/logger"
)

// Stream yields pushed items in arrival order. Next returns io.EOF once the
// server closed the stream, a *StreamError when the transport broke, and a
// *envelope.DecodeError for a single bad frame (the stream stays usable).
// A stream that returned io.EOF or a *StreamError keeps returning it.
type Stream interface {
	Next(ctx context.Context) (envelope.Item, error)
	Close() error
}

// StreamError is a transport failure on a push stream.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string { return "pushchan: " + e.Op + ": " + e.Err.Error() }
func (e *StreamError) Unwrap() error { return e.Err }

// Handler is called once per item, in order, from the listener goroutine.
type Handler func(ctx context.Context, it envelope.Item) error

// Listen is the one loop that reads s. It returns nil when the server closes
// the stream, ctx.Err() when ctx ends, and otherwise the first transport or
// handler error. Bad frames are logged and skipped.
func Listen(ctx context.Context, s Stream, h Handler) error {
	for {
		it, err := s.Next(ctx)
		if err != nil {
			var de *envelope.DecodeError
			switch {
			case errors.As(err, &de):
				logger.Warn("push_frame_dropped", "error", de)
				continue
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return err
			}
		}
		if err := h(ctx, it); err != nil {
			return err
		}
	}
}
