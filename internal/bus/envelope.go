package bus

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/hlcsim/internal/hlc"
)

// Envelope is one message in flight: the sender's timestamp at send time
// plus an opaque payload. Envelopes are never mutated after creation; the
// bus hands the recipient a decoded copy, not the sender's value.
type Envelope struct {
	ID        string        `json:"id" msgpack:"id"`
	From      string        `json:"from" msgpack:"from"`
	To        string        `json:"to" msgpack:"to"`
	Timestamp hlc.Timestamp `json:"timestamp" msgpack:"timestamp"`
	Payload   []byte        `json:"payload,omitempty" msgpack:"payload"`
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s %s->%s @%s", e.ID, e.From, e.To, e.Timestamp)
}

// Codec serializes envelopes crossing the bus.
type Codec interface {
	Name() string
	Marshal(env Envelope) ([]byte, error)
	Unmarshal(data []byte, env *Envelope) error
}

// MsgpackCodec encodes envelopes with MessagePack. It is the default.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(env Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func (MsgpackCodec) Unmarshal(data []byte, env *Envelope) error {
	return msgpack.Unmarshal(data, env)
}

// CBORCodec encodes envelopes with CBOR (RFC 8949).
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(env Envelope) ([]byte, error) {
	return cbor.Marshal(env)
}

func (CBORCodec) Unmarshal(data []byte, env *Envelope) error {
	return cbor.Unmarshal(data, env)
}

// CodecByName returns the codec registered under name. An empty name
// selects msgpack.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return MsgpackCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q (want msgpack or cbor)", name)
}

// copyEnvelope round-trips env through codec, detaching the result from
// any memory the sender still holds.
func copyEnvelope(codec Codec, env Envelope) (Envelope, error) {
	data, err := codec.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	var out Envelope
	if err := codec.Unmarshal(data, &out); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope %s: %w", env.ID, err)
	}
	return out, nil
}
