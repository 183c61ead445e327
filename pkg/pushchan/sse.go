package pushchan

import (
	"context"
	"errors"
	"io"
	"sync"

	"clipshare/pkg/envelope"
)

// SSEStream reads an event stream body from GET /v1/events.
type SSEStream struct {
	body io.ReadCloser
	r    *envelope.EventReader

	mu      sync.Mutex
	session string
	done    error
}

func NewSSEStream(body io.ReadCloser) *SSEStream {
	return &SSEStream{body: body, r: envelope.NewEventReader(body)}
}

// Session is the id from the hello event, empty until it has been read.
func (s *SSEStream) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Next reads until the next item event. Cancelling ctx closes the body, which
// ends the stream.
func (s *SSEStream) Next(ctx context.Context) (envelope.Item, error) {
	if err := s.terminal(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { s.body.Close() })
	defer stop()

	for {
		ev, err := s.r.Next()
		if err != nil {
			var de *envelope.DecodeError
			if errors.As(err, &de) {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, s.finish(ctx.Err())
			}
			if errors.Is(err, io.EOF) {
				return nil, s.finish(io.EOF)
			}
			return nil, s.finish(&StreamError{Op: "read event", Err: err})
		}

		if ev.Name == envelope.EventHello {
			h, err := envelope.ParseHello(ev)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			s.session = h.Session
			s.mu.Unlock()
			continue
		}
		if ev.Name != envelope.EventItem {
			continue
		}
		return envelope.Decode(ev.Data)
	}
}

func (s *SSEStream) Close() error {
	s.finish(io.EOF)
	return s.body.Close()
}

func (s *SSEStream) terminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *SSEStream) finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = err
	}
	return s.done
}
