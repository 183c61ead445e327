package pushchan

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"clipshare/pkg/envelope"
)

// MessageReader is the read half of a websocket connection.
type MessageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
}

// WSStream reads items pushed over /v1/ws. Text frames are JSON, binary
// frames use the codec negotiated at dial time.
type WSStream struct {
	conn   MessageReader
	closer io.Closer
	binary envelope.Codec

	mu   sync.Mutex
	done error
}

// NewWSStream wraps conn. closer may be nil when the connection is owned and
// closed elsewhere.
func NewWSStream(conn MessageReader, closer io.Closer, binary envelope.Codec) *WSStream {
	if binary == nil {
		binary = envelope.Msgpack
	}
	return &WSStream{conn: conn, closer: closer, binary: binary}
}

func (s *WSStream) Next(ctx context.Context) (envelope.Item, error) {
	if err := s.terminal(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { s.conn.SetReadDeadline(time.Now()) })
	defer stop()

	mt, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.finish(ctx.Err())
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
			return nil, s.finish(io.EOF)
		}
		return nil, s.finish(&StreamError{Op: "read frame", Err: err})
	}

	switch mt {
	case websocket.TextMessage:
		return envelope.Decode(data)
	case websocket.BinaryMessage:
		return s.binary.Unmarshal(data)
	default:
		return nil, &envelope.DecodeError{Reason: "unexpected frame type"}
	}
}

func (s *WSStream) Close() error {
	s.finish(io.EOF)
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *WSStream) terminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *WSStream) finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = err
	}
	return s.done
}
