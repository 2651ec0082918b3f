package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tixel/tryorama/message"
)

func TestMsgpackCodecRoundTrip(t *testing.T) {
	c := &MsgpackCodec{}

	cases := []*message.Message{
		message.NewRequest("req-1", []byte{0x00, 0xff, 0x10, 0x80}),
		message.NewRequest("", []byte(`{"type":"call_zome"}`)),
		message.NewResponse("req-1", []byte("reply")),
		message.NewSignal([]byte{0xde, 0xad, 0xbe, 0xef}),
	}

	for _, original := range cases {
		t.Run(original.String(), func(t *testing.T) {
			data, err := c.Encode(original)
			require.NoError(t, err)

			decoded, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, original, decoded)
		})
	}
}

func TestMsgpackCodecEmptyPayload(t *testing.T) {
	c := &MsgpackCodec{}

	data, err := c.Encode(message.NewResponse("x", nil))
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, message.KindResponse, decoded.Kind)
	assert.Equal(t, "x", decoded.ID)
	assert.Empty(t, decoded.Data)
}

// The payload must go out as bin, the id key must be present for requests
// even when empty, and signals must not carry an id at all.
func TestMsgpackCodecWireShape(t *testing.T) {
	c := &MsgpackCodec{}

	data, err := c.Encode(message.NewRequest("", []byte("payload")))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, msgpack.Unmarshal(data, &raw))
	assert.Equal(t, "Request", raw["type"])
	assert.Contains(t, raw, "id")
	assert.Equal(t, "", raw["id"])
	assert.IsType(t, []byte{}, raw["data"])

	data, err = c.Encode(message.NewSignal([]byte("s")))
	require.NoError(t, err)

	raw = nil
	require.NoError(t, msgpack.Unmarshal(data, &raw))
	assert.Equal(t, "Signal", raw["type"])
	assert.NotContains(t, raw, "id")
}

func TestMsgpackCodecDecodeStringPayload(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"type": "Signal", "data": "text"})
	require.NoError(t, err)

	msg, err := (&MsgpackCodec{}).Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), msg.Data)
}

func TestMsgpackCodecDecodeErrors(t *testing.T) {
	encode := func(v any) []byte {
		data, err := msgpack.Marshal(v)
		require.NoError(t, err)
		return data
	}

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"garbage", []byte{0xc1}, ErrMalformedFrame},
		{"truncated", []byte{0x83, 0xa4, 't'}, ErrMalformedFrame},
		{"not a map", encode(42), ErrMalformedFrame},
		{"nil", encode(nil), ErrMalformedFrame},
		{"missing type", encode(map[string]any{"id": "a", "data": []byte("x")}), ErrMalformedFrame},
		{"type not a string", encode(map[string]any{"type": 1, "data": []byte("x")}), ErrMalformedFrame},
		{"response without id", encode(map[string]any{"type": "Response", "data": []byte("x")}), ErrMalformedFrame},
		{"request without data", encode(map[string]any{"type": "Request", "id": "a"}), ErrMalformedFrame},
		{"signal with int data", encode(map[string]any{"type": "Signal", "data": 7}), ErrMalformedFrame},
		{"unknown variant", encode(map[string]any{"type": "Heartbeat", "data": []byte("x")}), ErrUnknownVariant},
	}

	c := &MsgpackCodec{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := c.Decode(tc.data)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMsgpackCodecEncodeErrors(t *testing.T) {
	c := &MsgpackCodec{}

	_, err := c.Encode(nil)
	assert.Error(t, err)

	_, err = c.Encode(&message.Message{Kind: "Heartbeat"})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "msgpack", Default().Name())
}
