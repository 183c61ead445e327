package envelope

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var created = time.UnixMilli(1700000000123).UTC()

func TestDecodeRejectsUnknownKind(t *testing.T) {
	cases := []struct {
		name string
		in   string
		kind string
	}{
		{name: "unknown", in: `{"kind":"video","id":"1"}`, kind: "video"},
		{name: "missing", in: `{"id":"1","body":"x"}`},
		{name: "not json", in: `data`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode([]byte(c.in))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %v", err)
			}
			if de.Kind != c.kind {
				t.Fatalf("kind = %q, want %q", de.Kind, c.kind)
			}
		})
	}
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	b, err := Encode(FileLink{ID: "7", Name: "a.txt", Type: "text/plain", URL: "/v1/items/7/content", Size: 3, Created: created})
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"file","id":"7","name":"a.txt","type":"text/plain","url":"/v1/items/7/content","size":3,"created":1700000000123}`, string(b))

	b, err = Encode(&Clipboard{ID: "8", Body: "hi", Created: created})
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"clipboard","id":"8","type":"text/x-clipboard","body":"hi","created":1700000000123}`, string(b))
}

func TestDecodeVariants(t *testing.T) {
	it, err := Decode([]byte(`{"kind":"clipboard","id":"1","body":"copied","created":1700000000123}`))
	require.NoError(t, err)
	cb, ok := it.(Clipboard)
	require.True(t, ok, "got %T", it)
	require.Equal(t, "copied", cb.Body)
	require.True(t, cb.Created.Equal(created))

	it, err = Decode([]byte(`{"kind":"file","id":"2","name":"x.png","type":"image/png","size":10}`))
	require.NoError(t, err)
	fl, ok := it.(FileLink)
	require.True(t, ok, "got %T", it)
	require.Equal(t, "x.png", fl.Name)
	require.EqualValues(t, 10, fl.Size)
}

func TestMsgpackCodecCarriesBothVariants(t *testing.T) {
	c, err := CodecByName("msgpack")
	require.NoError(t, err)

	for _, it := range []Item{
		Clipboard{ID: "1", Body: "text", Created: created},
		FileLink{ID: "2", Name: "f.bin", Type: "application/octet-stream", URL: "/v1/items/2/content", Size: 42, Created: created},
	} {
		b, err := c.Marshal(it)
		require.NoError(t, err)
		got, err := c.Unmarshal(b)
		require.NoError(t, err)
		require.Equal(t, it, got)
	}

	_, err = c.Unmarshal([]byte{0xc1})
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	_, err = CodecByName("xml")
	require.Error(t, err)
}

func TestSSEFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHello(&buf, "sess-1"))
	require.NoError(t, WriteComment(&buf, "ping"))
	require.NoError(t, WriteItem(&buf, Clipboard{ID: "9", Body: "line one\n\nline two", Created: created}))

	if !strings.HasPrefix(buf.String(), "event: hello\ndata:") {
		t.Fatalf("stream must open with hello, got %q", buf.String())
	}

	r := NewEventReader(&buf)
	ev, err := r.Next()
	require.NoError(t, err)
	h, err := ParseHello(ev)
	require.NoError(t, err)
	require.Equal(t, "sess-1", h.Session)

	ev, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "9", ev.ID)
	it, err := Decode(ev.Data)
	require.NoError(t, err)
	require.Equal(t, "line one\n\nline two", it.(Clipboard).Body)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestEventReaderBadPayloadIsRecoverable(t *testing.T) {
	stream := "data:!!!notbase64\n\n" + "data:" + "eyJraW5kIjoiY2xpcGJvYXJkIiwiaWQiOiIxIn0=" + "\n\n"
	r := NewEventReader(strings.NewReader(stream))

	_, err := r.Next()
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	ev, err := r.Next()
	require.NoError(t, err)
	it, err := Decode(ev.Data)
	require.NoError(t, err)
	require.Equal(t, KindClipboard, it.Kind())
}

func TestEventReaderTruncated(t *testing.T) {
	r := NewEventReader(strings.NewReader("data:abcd"))
	_, err := r.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestUploadHeaderLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUploadHeader(&buf, UploadHeader{Name: "note", Type: ClipboardType, Token: "tok"}))
	buf.WriteString("body bytes")

	br := bufio.NewReader(&buf)
	h, err := ReadUploadHeader(br)
	require.NoError(t, err)
	require.True(t, h.IsClipboard())
	require.Equal(t, "tok", h.Token)

	rest, err := io.ReadAll(br)
	require.NoError(t, err)
	require.Equal(t, "body bytes", string(rest))

	_, err = ReadUploadHeader(bufio.NewReader(strings.NewReader("%%%\n")))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}
