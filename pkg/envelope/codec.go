package envelope

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
)

// Codec turns items into frames and back.
type Codec interface {
	Name() string
	Marshal(Item) ([]byte, error)
	Unmarshal([]byte) (Item, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                     { return "json" }
func (jsonCodec) Marshal(it Item) ([]byte, error)  { return Encode(it) }
func (jsonCodec) Unmarshal(b []byte) (Item, error) { return Decode(b) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(it Item) ([]byte, error) {
	w, err := toWire(it)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(&w)
}

func (msgpackCodec) Unmarshal(b []byte) (Item, error) {
	var w wire
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return nil, &DecodeError{Reason: "malformed msgpack", Err: err}
	}
	return fromWire(w)
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves the codec a client asked for. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("envelope: unknown codec %q", name)
	}
}
