// Package message defines the tagged message exchanged with a conductor.
//
// Every frame on the wire carries exactly one Message. The Kind field is the
// discriminator; Request and Response carry a correlation ID, Signal does not.
//
//	Request  ──id──►  conductor
//	Response ◄──id──  conductor   (same id as the Request it answers)
//	Signal   ◄──────  conductor   (unsolicited, no id)
package message

import "fmt"

// Kind is the wire discriminator of a Message.
type Kind string

const (
	KindRequest  Kind = "Request"  // Relay → conductor call
	KindResponse Kind = "Response" // Conductor → relay reply, matched by ID
	KindSignal   Kind = "Signal"   // Conductor → relay push, never matched
)

// Valid reports whether k is one of the three known variants.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindSignal:
		return true
	}
	return false
}

// HasID reports whether messages of kind k carry a correlation ID.
func (k Kind) HasID() bool {
	return k == KindRequest || k == KindResponse
}

// Message is one decoded frame.
//
//   - Request:  ID chosen by the caller, Data is the opaque call payload.
//   - Response: ID copied from the Request, Data is the opaque reply payload.
//   - Signal:   ID is empty, Data is the opaque signal payload.
type Message struct {
	Kind Kind
	ID   string
	Data []byte
}

func NewRequest(id string, data []byte) *Message {
	return &Message{Kind: KindRequest, ID: id, Data: data}
}

func NewResponse(id string, data []byte) *Message {
	return &Message{Kind: KindResponse, ID: id, Data: data}
}

func NewSignal(data []byte) *Message {
	return &Message{Kind: KindSignal, Data: data}
}

// String renders the message for logs without dumping the payload.
func (m *Message) String() string {
	if m.Kind.HasID() {
		return fmt.Sprintf("%s{id=%q, %d bytes}", m.Kind, m.ID, len(m.Data))
	}
	return fmt.Sprintf("%s{%d bytes}", m.Kind, len(m.Data))
}
