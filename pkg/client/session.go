// Package client is a clipshare session: login, uploads, and the push
// channels of one signed-in user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"clipshare/pkg/envelope"
	"clipshare/pkg/pushchan"
	"clipshare/pkg/sequencer"
	"clipshare/pkg/state/logger"
)

// Options configure Login.
type Options struct {
	BaseURL   string
	UserID    string
	Signature string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Codec is the websocket push codec, "json" (default) or "msgpack".
	Codec string
	// OnPush receives items pushed over the websocket. Nil discards them.
	OnPush pushchan.Handler
}

// Session is one login. It owns the token, the websocket and the sequencer
// every websocket upload goes through. A session is torn down by Logout or
// when its websocket breaks.
type Session struct {
	base   *url.URL
	http   *http.Client
	codec  envelope.Codec
	token  string
	user   string
	expiry time.Time

	ws  *wsChannel
	seq *sequencer.Sequencer[*wsChannel]

	mu        sync.Mutex
	closed    bool
	loggedOut bool
}

type loginResponse struct {
	Token   string    `json:"token"`
	User    string    `json:"user"`
	Expires time.Time `json:"expires"`
}

// Login opens a session for a backend-signed user id.
func Login(ctx context.Context, opts Options) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	codec, err := envelope.CodecByName(opts.Codec)
	if err != nil {
		return nil, err
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	body, err := json.Marshal(map[string]string{"userId": opts.UserID, "signature": opts.Signature})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String()+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := checkResponse(resp, http.StatusCreated); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("login: decode response: %w", err)
	}

	s := newSession(opts, base, hc, codec, lr.Token, lr.User, lr.Expires)
	logger.Debug("client_logged_in", "user", s.user, "expires", s.expiry)
	return s, nil
}

// Resume rebuilds a session from a token saved by an earlier Login. The
// token is not checked until the first request.
func Resume(opts Options, token, user string, expires time.Time) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	if token == "" {
		return nil, errors.New("empty session token")
	}
	codec, err := envelope.CodecByName(opts.Codec)
	if err != nil {
		return nil, err
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return newSession(opts, base, hc, codec, token, user, expires), nil
}

func newSession(opts Options, base *url.URL, hc *http.Client, codec envelope.Codec, token, user string, expires time.Time) *Session {
	s := &Session{base: base, http: hc, codec: codec, token: token, user: user, expiry: expires}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	s.ws = &wsChannel{session: s, dialer: dialer, onPush: opts.OnPush}
	s.seq = sequencer.New("client_ws", s.ws)
	return s
}

func (s *Session) Token() string      { return s.token }
func (s *Session) User() string       { return s.user }
func (s *Session) Expires() time.Time { return s.expiry }

// Err is nil while the websocket channel is usable.
func (s *Session) Err() error { return s.seq.Err() }

// Close drains queued websocket uploads and closes the socket. The server
// session stays valid, so the token can be resumed later.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.seq.Close(ctx)
	s.ws.close()
	if err != nil {
		return fmt.Errorf("drain uploads: %w", err)
	}
	return nil
}

// Logout closes the session and deletes it on the server.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return nil
	}
	s.loggedOut = true
	s.mu.Unlock()

	var errs []error
	if err := s.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	resp, err := s.do(ctx, http.MethodDelete, "/v1/sessions", "", nil)
	if err != nil {
		errs = append(errs, err)
	} else if err := checkResponse(resp, http.StatusNoContent); err != nil {
		errs = append(errs, err)
	} else {
		resp.Body.Close()
	}
	return errors.Join(errs...)
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return s.http.Do(req)
}

// UploadFile uploads r over HTTP. Each call is an independent request.
func (s *Session) UploadFile(ctx context.Context, name, typ string, r io.Reader) (envelope.Item, error) {
	resp, err := s.do(ctx, http.MethodPost, "/v1/items?name="+url.QueryEscape(name), typ, r)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if err := checkResponse(resp, http.StatusCreated); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return envelope.Decode(b)
}

// UploadClipboard uploads pasted text.
func (s *Session) UploadClipboard(ctx context.Context, text string) (envelope.Item, error) {
	return s.UploadFile(ctx, "", envelope.ClipboardType, strings.NewReader(text))
}

// Items returns the user's recent items, oldest first.
func (s *Session) Items(ctx context.Context, limit int) ([]envelope.Item, error) {
	path := "/v1/items"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	resp, err := s.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if err := checkResponse(resp, http.StatusOK); err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	items := make([]envelope.Item, 0, len(out.Items))
	for _, raw := range out.Items {
		it, err := envelope.Decode(raw)
		if err != nil {
			logger.Warn("client_item_dropped", "error", err)
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// Open downloads the content of a file item.
func (s *Session) Open(ctx context.Context, f envelope.FileLink) (io.ReadCloser, error) {
	resp, err := s.do(ctx, http.MethodGet, f.URL, "", nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.Name, err)
	}
	if err := checkResponse(resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Events opens the server-sent event channel. The caller closes the
// stream.
func (s *Session) Events(ctx context.Context) (*pushchan.SSEStream, error) {
	resp, err := s.do(ctx, http.MethodGet, "/v1/events", "", nil)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	if err := checkResponse(resp, http.StatusOK); err != nil {
		return nil, err
	}
	return pushchan.NewSSEStream(resp.Body), nil
}

// Subscribe opens the event channel and hands every item to h until the
// server closes it, ctx ends or h fails.
func (s *Session) Subscribe(ctx context.Context, h pushchan.Handler) error {
	stream, err := s.Events(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	return pushchan.Listen(ctx, stream, h)
}

// Send uploads body over the websocket as a header frame followed by a body
// frame. Uploads from concurrent callers reach the socket whole and in call
// order.
func (s *Session) Send(ctx context.Context, name, typ string, body []byte) *sequencer.Future[struct{}] {
	hdr := envelope.UploadHeader{Name: name, Type: typ}
	return sequencer.Submit(s.seq, ctx, func(ctx context.Context, ch *wsChannel) (struct{}, error) {
		return struct{}{}, ch.upload(ctx, hdr, body)
	})
}
