package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// CodecJSON sends envelopes as websocket text messages
	CodecJSON = "json"
	// CodecMsgpack sends envelopes as websocket binary messages
	CodecMsgpack = "msgpack"
)

// Codec converts envelopes to and from websocket message payloads
type Codec interface {
	Name() string
	// Binary reports whether encoded envelopes travel as binary messages
	Binary() bool
	Encode(event Event, payload any) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// Message is a decoded envelope whose payload has not been bound yet
type Message struct {
	Event     Event
	data      []byte
	unmarshal func([]byte, any) error
}

// Bind decodes the message payload into v
func (m *Message) Bind(v any) error {
	if len(m.data) == 0 {
		return fmt.Errorf("event %s has no payload", m.Event)
	}
	return m.unmarshal(m.data, v)
}

// CodecByName returns the codec for name; empty selects JSON
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec encodes envelopes as JSON
type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(event Event, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: payload})
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var wire struct {
		Event Event           `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode json envelope: %w", err)
	}
	if wire.Event == "" {
		return nil, fmt.Errorf("envelope has no event")
	}
	return &Message{Event: wire.Event, data: wire.Data, unmarshal: json.Unmarshal}, nil
}

// MsgpackCodec encodes envelopes as msgpack, reusing the json struct tags
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(event Event, payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(Envelope{Event: event, Data: payload}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (*Message, error) {
	var wire struct {
		Event Event              `json:"event"`
		Data  msgpack.RawMessage `json:"data"`
	}
	if err := msgpackUnmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode msgpack envelope: %w", err)
	}
	if wire.Event == "" {
		return nil, fmt.Errorf("envelope has no event")
	}
	return &Message{Event: wire.Event, data: wire.Data, unmarshal: msgpackUnmarshal}, nil
}

func msgpackUnmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
