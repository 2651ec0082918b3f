package codec

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tixel/tryorama/message"
)

// Wire keys. The payload key is "data", as the conductor emits it.
const (
	keyType = "type"
	keyID   = "id"
	keyData = "data"
)

// wireMessage is the encoded shape: a map with a "type" discriminator.
// ID is a pointer so Signal frames omit the key while Request/Response frames
// keep it even when the id is the empty string.
type wireMessage struct {
	Type string  `msgpack:"type"`
	ID   *string `msgpack:"id,omitempty"`
	Data []byte  `msgpack:"data"`
}

// MsgpackCodec encodes messages as named MessagePack maps with payloads as raw
// bin values (never str or int arrays).
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(msg *message.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("MsgpackCodec: nil message")
	}
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, msg.Kind)
	}

	// A nil slice would encode as msgpack nil; keep it a zero-length bin.
	data := msg.Data
	if data == nil {
		data = []byte{}
	}
	w := wireMessage{Type: string(msg.Kind), Data: data}
	if msg.Kind.HasID() {
		id := msg.ID
		w.ID = &id
	}
	return msgpack.Marshal(&w)
}

func (c *MsgpackCodec) Decode(data []byte) (*message.Message, error) {
	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not a map", ErrMalformedFrame)
	}

	typ, ok := raw[keyType].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q discriminator", ErrMalformedFrame, keyType)
	}
	kind := message.Kind(typ)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, typ)
	}

	msg := &message.Message{Kind: kind}
	if kind.HasID() {
		id, ok := raw[keyID].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s without %q", ErrMalformedFrame, kind, keyID)
		}
		msg.ID = id
	}

	switch payload := raw[keyData].(type) {
	case []byte:
		msg.Data = payload
	case string:
		// Tolerated: some encoders write short byte strings as str.
		msg.Data = []byte(payload)
	default:
		return nil, fmt.Errorf("%w: %s without binary %q", ErrMalformedFrame, kind, keyData)
	}
	return msg, nil
}

func (c *MsgpackCodec) Name() string {
	return "msgpack"
}
