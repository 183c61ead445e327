// Package envelope defines the items pushed to clients and their wire forms.
//
// An Item is either a Clipboard paste or a FileLink. On the wire both are one
// JSON (or msgpack) object whose "kind" field says which; Decode is the only
// place that turns bytes back into an Item.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the variant of an Item on the wire.
type Kind string

const (
	KindClipboard Kind = "clipboard"
	KindFile      Kind = "file"
)

// ClipboardType is the upload content type that marks a clipboard paste.
const ClipboardType = "text/x-clipboard"

// Item is a Clipboard or a FileLink.
type Item interface {
	Kind() Kind
	ItemID() string
	CreatedAt() time.Time
	isItem()
}

// Clipboard is a pasted text snippet carried inline.
type Clipboard struct {
	ID      string
	Body    string
	Created time.Time
}

func (Clipboard) Kind() Kind             { return KindClipboard }
func (c Clipboard) ItemID() string       { return c.ID }
func (c Clipboard) CreatedAt() time.Time { return c.Created }
func (Clipboard) isItem()                {}

// FileLink points at an uploaded blob.
type FileLink struct {
	ID      string
	Name    string
	Type    string
	URL     string
	Size    int64
	Created time.Time
}

func (FileLink) Kind() Kind             { return KindFile }
func (f FileLink) ItemID() string       { return f.ID }
func (f FileLink) CreatedAt() time.Time { return f.Created }
func (FileLink) isItem()                {}

// DecodeError reports bytes that are not a valid item. It never means the
// channel they arrived on is broken.
type DecodeError struct {
	Kind   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "envelope: " + e.Reason
	if e.Kind != "" {
		msg += fmt.Sprintf(" (kind %q)", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// wire is the flat on-the-wire shape shared by both variants.
type wire struct {
	Kind    Kind   `json:"kind" msgpack:"kind"`
	ID      string `json:"id" msgpack:"id"`
	Name    string `json:"name,omitempty" msgpack:"name,omitempty"`
	Type    string `json:"type,omitempty" msgpack:"type,omitempty"`
	URL     string `json:"url,omitempty" msgpack:"url,omitempty"`
	Size    int64  `json:"size,omitempty" msgpack:"size,omitempty"`
	Body    string `json:"body,omitempty" msgpack:"body,omitempty"`
	Created int64  `json:"created" msgpack:"created"`
}

func toWire(it Item) (wire, error) {
	switch v := it.(type) {
	case Clipboard:
		return wire{Kind: KindClipboard, ID: v.ID, Type: ClipboardType, Body: v.Body, Created: millis(v.Created)}, nil
	case *Clipboard:
		return toWire(*v)
	case FileLink:
		return wire{Kind: KindFile, ID: v.ID, Name: v.Name, Type: v.Type, URL: v.URL, Size: v.Size, Created: millis(v.Created)}, nil
	case *FileLink:
		return toWire(*v)
	case nil:
		return wire{}, fmt.Errorf("envelope: nil item")
	default:
		return wire{}, fmt.Errorf("envelope: unsupported item type %T", it)
	}
}

func fromWire(w wire) (Item, error) {
	created := time.UnixMilli(w.Created).UTC()
	switch w.Kind {
	case KindClipboard:
		return Clipboard{ID: w.ID, Body: w.Body, Created: created}, nil
	case KindFile:
		return FileLink{ID: w.ID, Name: w.Name, Type: w.Type, URL: w.URL, Size: w.Size, Created: created}, nil
	case "":
		return nil, &DecodeError{Reason: "missing kind"}
	default:
		return nil, &DecodeError{Kind: string(w.Kind), Reason: "unknown kind"}
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Encode renders it as JSON.
func Encode(it Item) ([]byte, error) {
	w, err := toWire(it)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode parses JSON produced by Encode. Anything else yields a *DecodeError.
func Decode(b []byte) (Item, error) {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, &DecodeError{Reason: "malformed json", Err: err}
	}
	return fromWire(w)
}
