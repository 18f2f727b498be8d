// Package encoding holds the wire codecs used on the stream transport and
// the sealing of session tokens handed to browsers.
package encoding

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes stream frames.
type Codec interface {
	// Name is the websocket subprotocol selecting the codec, or "" for the
	// default.
	Name() string
	// Binary reports whether frames are sent as binary messages.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackSubprotocol selects msgpack frames.
const MsgpackSubprotocol = "statesync.msgpack"

var (
	// JSON is the default codec.
	JSON Codec = jsonCodec{}
	// Msgpack encodes frames as msgpack, using json struct tags for field
	// names so both codecs agree on the shape of every message.
	Msgpack Codec = msgpackCodec{}
)

// ForSubprotocol returns the codec negotiated by a websocket subprotocol.
func ForSubprotocol(name string) Codec {
	if name == MsgpackSubprotocol {
		return Msgpack
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return MsgpackSubprotocol }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes untyped numbers as int64, uint64 or float64 rather
// than the narrowest type on the wire.
func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
