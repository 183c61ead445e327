package envelope

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Event names used on the push stream. Item events carry no name.
const (
	EventHello = "hello"
	EventItem  = ""
)

// Event is one Server-Sent Event. Data holds the decoded payload; on the wire
// it is base64 so a payload can never contain the blank line that ends an
// event.
type Event struct {
	Name string
	ID   string
	Data []byte
}

// Hello is the payload of the first event on every stream.
type Hello struct {
	Session string `json:"session"`
}

// WriteEvent frames ev onto w in one write.
func WriteEvent(w io.Writer, ev Event) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if ev.Name != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Name)
		buf.WriteByte('\n')
	}
	if ev.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(ev.ID)
		buf.WriteByte('\n')
	}
	buf.WriteString("data:")
	enc := base64.StdEncoding
	n := enc.EncodedLen(len(ev.Data))
	start := len(buf.B)
	buf.B = append(buf.B, make([]byte, n)...)
	enc.Encode(buf.B[start:], ev.Data)
	buf.WriteString("\n\n")

	_, err := w.Write(buf.B)
	return err
}

// WriteItem frames it as an item event, using its id as the event id.
func WriteItem(w io.Writer, it Item) error {
	b, err := Encode(it)
	if err != nil {
		return err
	}
	return WriteEvent(w, Event{ID: it.ItemID(), Data: b})
}

// WriteHello frames the stream's opening event.
func WriteHello(w io.Writer, session string) error {
	b, err := json.Marshal(Hello{Session: session})
	if err != nil {
		return err
	}
	return WriteEvent(w, Event{Name: EventHello, Data: b})
}

// WriteComment writes a keep-alive line that readers skip.
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}

// EventReader parses a stream written by WriteEvent.
type EventReader struct {
	r *bufio.Reader
}

func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{r: bufio.NewReader(r)}
}

// Next returns the next complete event. io.EOF means the stream ended
// between events; io.ErrUnexpectedEOF means it ended inside one. A payload
// that is not base64 is reported as a *DecodeError and the reader stays
// usable.
func (er *EventReader) Next() (Event, error) {
	var ev Event
	var data strings.Builder
	seen := false

	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if seen || line != "" {
					return Event{}, io.ErrUnexpectedEOF
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			raw, derr := base64.StdEncoding.DecodeString(data.String())
			if derr != nil {
				return Event{}, &DecodeError{Reason: "event data is not base64", Err: derr}
			}
			ev.Data = raw
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			seen = true
		case "id":
			ev.ID = value
			seen = true
		case "data":
			data.WriteString(value)
			seen = true
		}
	}
}

// ParseHello reads the session id out of a hello event.
func ParseHello(ev Event) (Hello, error) {
	var h Hello
	if ev.Name != EventHello {
		return h, &DecodeError{Kind: ev.Name, Reason: "expected hello event"}
	}
	if err := json.NewDecoder(bytes.NewReader(ev.Data)).Decode(&h); err != nil {
		return h, &DecodeError{Reason: "malformed hello", Err: err}
	}
	return h, nil
}
