// Package codec turns messages into frame bodies and back.
//
// The conductor speaks MessagePack; MsgpackCodec is the Default.
package codec

import (
	"errors"

	"github.com/tixel/tryorama/message"
)

var (
	// ErrMalformedFrame is returned when a frame body is not a MessagePack map
	// or lacks the discriminator or a field its variant requires.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownVariant is returned when the discriminator names no known variant.
	ErrUnknownVariant = errors.New("unknown message variant")
)

type Codec interface {
	Encode(msg *message.Message) ([]byte, error)
	Decode(data []byte) (*message.Message, error)
	Name() string
}

// Default returns the codec the conductor speaks.
func Default() Codec {
	return &MsgpackCodec{}
}
