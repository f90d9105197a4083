// Package codec defines the pluggable payload serializer used by volcano for
// both the websocket control channel and the HTTP request channel.
package codec

import (
	json "github.com/goccy/go-json"
)

// Codec encodes and decodes protocol payloads. Implementations must satisfy
// the round-trip law: for any encodable value v, Decode(Encode(v)) yields a
// value equal to v.
type Codec interface {
	ContentType() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string             { return "application/json" }
func (jsonCodec) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

// JSON returns the default JSON codec. The returned value is immutable;
// callers needing different behavior supply their own Codec instead of
// mutating a shared default.
func JSON() Codec { return jsonCodec{} }
