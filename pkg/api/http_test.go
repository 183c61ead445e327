package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"clipshare/internal/retention"
	"clipshare/pkg/api/auth"
	"clipshare/pkg/api/router"
	adminRoutes "clipshare/pkg/api/routes/admin"
	frontendRoutes "clipshare/pkg/api/routes/frontend"
	"clipshare/pkg/config"
	"clipshare/pkg/envelope"
	"clipshare/pkg/hub"
	"clipshare/pkg/pushchan"
	"clipshare/pkg/store"
)

const base = "http://clipshare"

type diskFlag bool

func (d *diskFlag) DiskAlert() bool { return bool(*d) }

type testServer struct {
	ln   *fasthttputil.InmemoryListener
	st   *store.Store
	fe   *frontendRoutes.Handlers
	disk *diskFlag
	http *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.APIKeys.Backend = []string{"sk_backend"}
	cfg.Security.APIKeys.Admin = []string{"sk_admin"}
	cfg.Retention.Period = "1h"
	cfg.Retention.LockTTL = config.Duration(time.Minute)
	config.SetRuntime(config.NewRuntime(cfg))

	st, err := store.Open("db", store.Options{FS: vfs.NewMem(), NoSync: true})
	require.NoError(t, err)
	h := hub.New(hub.Options{WriteTimeout: time.Second})
	disk := new(diskFlag)
	fe := &frontendRoutes.Handlers{Store: st, Hub: h, Disk: disk, MaxUpload: 1 << 20, KeepAlive: time.Hour}
	jobs := &adminRoutes.Jobs{Retention: retention.New(cfg.Retention, st, t.TempDir())}

	r := router.New()
	RegisterRoutes(r, Deps{Frontend: fe, Jobs: jobs})
	gw := auth.NewGateway(auth.SecConfigFrom(cfg), st)
	srv := &fasthttp.Server{Handler: Instrument(gw.Wrap(r.Handler))}
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = srv.Serve(ln) }()

	tr := &http.Transport{DialContext: func(context.Context, string, string) (net.Conn, error) { return ln.Dial() }}
	t.Cleanup(func() {
		_ = h.Close(context.Background())
		tr.CloseIdleConnections()
		_ = srv.Shutdown()
		_ = ln.Close()
		gw.Stop()
		_ = st.Close()
		config.SetRuntime(nil)
	})
	return &testServer{ln: ln, st: st, fe: fe, disk: disk, http: &http.Client{Transport: tr}}
}

func (s *testServer) do(t *testing.T, method, path string, hdr map[string]string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, base+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := s.http.Do(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

// login signs user with the backend key and opens a session.
func (s *testServer) login(t *testing.T, user string) string {
	t.Helper()
	resp := s.do(t, "POST", "/v1/sign", map[string]string{"X-API-Key": "sk_backend"}, []byte(`{"userId":"`+user+`"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var signed map[string]string
	require.NoError(t, json.Unmarshal(readBody(t, resp), &signed))

	body, _ := json.Marshal(map[string]string{"userId": user, "signature": signed["signature"]})
	resp = s.do(t, "POST", "/v1/sessions", nil, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Cookies())
	var sess struct {
		Token string `json:"token"`
		User  string `json:"user"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &sess))
	require.Equal(t, user, sess.User)
	return sess.Token
}

func bearer(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }

func (s *testServer) upload(t *testing.T, tok, name, typ, body string) envelope.Item {
	t.Helper()
	hdr := bearer(tok)
	hdr["Content-Type"] = typ
	resp := s.do(t, "POST", "/v1/items?name="+name, hdr, []byte(body))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	it, err := envelope.Decode(readBody(t, resp))
	require.NoError(t, err)
	return it
}

func TestUploadListAndDownload(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")

	file := s.upload(t, tok, "notes.txt", "text/plain", "hello")
	require.Equal(t, envelope.KindFile, file.Kind())
	fl := file.(envelope.FileLink)
	require.Equal(t, "notes.txt", fl.Name)
	require.Equal(t, int64(5), fl.Size)

	clip := s.upload(t, tok, "", envelope.ClipboardType, "copied")
	require.Equal(t, envelope.Clipboard{ID: clip.ItemID(), Body: "copied", Created: clip.CreatedAt()}, clip)

	resp := s.do(t, "GET", "/v1/items", bearer(tok), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &list))
	require.Len(t, list.Items, 2)
	first, err := envelope.Decode(list.Items[0])
	require.NoError(t, err)
	require.Equal(t, file.ItemID(), first.ItemID())

	resp = s.do(t, "GET", fl.URL, bearer(tok), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "notes.txt")
	require.Equal(t, "hello", string(readBody(t, resp)))

	// other users cannot see it
	other := s.login(t, "bob")
	resp = s.do(t, "GET", fl.URL, bearer(other), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")

	hdr := bearer(tok)
	hdr["Content-Type"] = "text/plain"
	resp := s.do(t, "POST", "/v1/items", hdr, []byte("x"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "file without a name")
	resp.Body.Close()

	s.fe.MaxUpload = 4
	resp = s.do(t, "POST", "/v1/items?name=big.bin", hdr, []byte("too large"))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()

	*s.disk = true
	resp = s.do(t, "POST", "/v1/items?name=a", hdr, []byte("a"))
	require.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
	resp.Body.Close()
}

func TestFramedUploadCarriesToken(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")

	var body bytes.Buffer
	require.NoError(t, envelope.WriteUploadHeader(&body, envelope.UploadHeader{Name: "a.png", Type: "image/png", Token: tok}))
	body.WriteString("\x89PNG")
	resp := s.do(t, "POST", "/v1/items", map[string]string{"Content-Type": envelope.UploadFramedType}, body.Bytes())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	it, err := envelope.Decode(readBody(t, resp))
	require.NoError(t, err)
	require.Equal(t, "image/png", it.(envelope.FileLink).Type)

	body.Reset()
	require.NoError(t, envelope.WriteUploadHeader(&body, envelope.UploadHeader{Name: "a.png", Type: "image/png", Token: "forged"}))
	resp = s.do(t, "POST", "/v1/items", map[string]string{"Content-Type": envelope.UploadFramedType}, body.Bytes())
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginAndLogout(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, "POST", "/v1/sessions", map[string]string{"X-User-ID": "alice", "X-User-Signature": "bad"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	sig := auth.CreateHMACSignature("alice", "sk_backend")
	resp = s.do(t, "POST", "/v1/sessions", map[string]string{"X-User-ID": "alice", "X-User-Signature": sig}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	tok := s.login(t, "alice")
	resp = s.do(t, "DELETE", "/v1/sessions", bearer(tok), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(t, "GET", "/v1/items", bearer(tok), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func nextItem(t *testing.T, s pushchan.Stream) envelope.Item {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	it, err := s.Next(ctx)
	require.NoError(t, err)
	return it
}

func TestEventsSendHistoryThenLiveItems(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")
	old := s.upload(t, tok, "", envelope.ClipboardType, "before")

	resp := s.do(t, "GET", "/v1/events?token="+tok, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	stream := pushchan.NewSSEStream(resp.Body)
	defer stream.Close()

	require.Equal(t, old.ItemID(), nextItem(t, stream).ItemID())
	require.Equal(t, tok, stream.Session())

	live := s.upload(t, tok, "", envelope.ClipboardType, "after")
	got := nextItem(t, stream)
	require.Equal(t, live.ItemID(), got.ItemID())
	require.Equal(t, "after", got.(envelope.Clipboard).Body)
}

func TestEventsDeliverEveryConcurrentUpload(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")

	resp := s.do(t, "GET", "/v1/events", bearer(tok), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stream := pushchan.NewSSEStream(resp.Body)
	defer stream.Close()
	first := s.upload(t, tok, "", envelope.ClipboardType, "first")
	require.Equal(t, first.ItemID(), nextItem(t, stream).ItemID())

	const n = 40
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest("POST", base+"/v1/items", strings.NewReader(fmt.Sprintf("clip-%d", i)))
			if err != nil {
				t.Error(err)
				return
			}
			req.Header.Set("Authorization", "Bearer "+tok)
			req.Header.Set("Content-Type", envelope.ClipboardType)
			resp, err := s.http.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("upload %d: %d %s", i, resp.StatusCode, b)
				return
			}
			it, err := envelope.Decode(b)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- it.ItemID()
		}()
	}
	wg.Wait()
	close(ids)

	want := map[string]bool{}
	for id := range ids {
		want[id] = true
	}
	require.Len(t, want, n)
	got := map[string]bool{}
	for j := 0; j < n; j++ {
		got[nextItem(t, stream).ItemID()] = true
	}
	require.Equal(t, want, got)
}

func TestEventsResumeAfter(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")
	first := s.upload(t, tok, "", envelope.ClipboardType, "one")
	second := s.upload(t, tok, "", envelope.ClipboardType, "two")

	resp := s.do(t, "GET", "/v1/events", map[string]string{"Authorization": "Bearer " + tok, "Last-Event-ID": first.ItemID()}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stream := pushchan.NewSSEStream(resp.Body)
	defer stream.Close()
	require.Equal(t, second.ItemID(), nextItem(t, stream).ItemID())
}

func (s *testServer) dialWS(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{NetDial: func(string, string) (net.Conn, error) { return s.ln.Dial() }, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial("ws://clipshare/v1/ws"+query, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebsocketUploadIsEchoedToEveryConnection(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")

	// token frame first, then uploads
	sender := s.dialWS(t, "")
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(tok)))
	watcher := s.dialWS(t, "?token="+tok)
	require.Eventually(t, func() bool { return s.fe.Hub.Count("alice") == 2 }, 5*time.Second, 10*time.Millisecond)

	hdr, _ := json.Marshal(envelope.UploadHeader{Name: "a.txt", Type: "text/plain"})
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, hdr))
	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, []byte("hi")))

	for _, c := range []*websocket.Conn{sender, watcher} {
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, msg, err := c.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, mt)
		it, err := envelope.Decode(msg)
		require.NoError(t, err)
		require.Equal(t, "a.txt", it.(envelope.FileLink).Name)
	}
}

func TestWebsocketBinaryCodecAndEcho(t *testing.T) {
	s := newTestServer(t)
	tok := s.login(t, "alice")
	conn := s.dialWS(t, "?codec=msgpack&token="+tok)

	hdr, _ := json.Marshal(envelope.UploadHeader{Name: "", Type: envelope.ClipboardType})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, hdr))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("over ws")))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	it, err := envelope.Msgpack.Unmarshal(msg)
	require.NoError(t, err)
	require.Equal(t, "over ws", it.(envelope.Clipboard).Body)

	recs, err := s.st.ListItems("alice", 10, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	conn := s.dialWS(t, "")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-API-Key": "sk_admin"}

	resp := s.do(t, "POST", "/admin/jobs/cleanup", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep retention.Report
	require.NoError(t, json.Unmarshal(readBody(t, resp), &rep))
	require.NotEmpty(t, rep.RunID)

	resp = s.do(t, "GET", "/admin/debug/prometheus", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(readBody(t, resp)), "clipshare_http_requests_total"))

	resp = s.do(t, "GET", "/admin/debug/prometheus", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
