// Package rpcerr is the error shape the relay hands back to its callers.
//
// Callers relay these errors as JSON-RPC errors, so every Error carries the
// JSON-RPC internal-error code and a human-readable message. Kind tells
// callers and tests which failure in the taxonomy occurred.
package rpcerr

import (
	"errors"
	"fmt"
)

// CodeInternalError is the JSON-RPC 2.0 "internal error" code.
const CodeInternalError = -32603

type Kind string

const (
	KindConnect           Kind = "connect"            // could not open the socket
	KindSend              Kind = "send"               // socket open, write failed
	KindDecode            Kind = "decode"             // frame is not a valid message
	KindProtocolShape     Kind = "protocol_shape"     // valid message, wrong variant for the context
	KindUnmatchedResponse Kind = "unmatched_response" // response id not pending
	KindUnexpectedVariant Kind = "unexpected_variant" // request arriving inbound
	KindClosed            Kind = "closed"             // connection ended before a response
	KindTimeout           Kind = "timeout"            // caller-imposed deadline expired
	KindRateLimited       Kind = "rate_limited"       // local rate limit refused the call
	KindNotConnected      Kind = "not_connected"      // no app session for the port
	KindDiscovery         Kind = "discovery"          // conductor lookup failed
)

type Error struct {
	Code    int
	Message string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an internal error of the given kind. When err is non-nil its text
// is appended to the message and it stays reachable through errors.Unwrap.
func New(kind Kind, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{
		Code:    CodeInternalError,
		Message: msg,
		Kind:    kind,
		Err:     err,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
