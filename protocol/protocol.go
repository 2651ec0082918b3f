// Package protocol implements the frame layer between the relay and a conductor.
//
// The conductor protocol rides on WebSocket. Only binary frames carry messages;
// each binary frame body is exactly one codec-encoded message.Message:
//
//	ws://host:port
//	┌────────────────┬──────────────────────────────────────────┐
//	│ opcode=binary  │ msgpack map {type, [id], data}           │
//	└────────────────┴──────────────────────────────────────────┘
//
// Text frames are rejected with ErrUnexpectedFrameKind before decoding is attempted.
// Ping/pong and close frames are handled by gorilla/websocket's control handlers.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tixel/tryorama/codec"
	"github.com/tixel/tryorama/message"
)

// ErrUnexpectedFrameKind is returned when a non-binary data frame arrives.
var ErrUnexpectedFrameKind = errors.New("unexpected frame kind")

const (
	HandshakeTimeout = 10 * time.Second
	closeWriteWait   = time.Second
)

// DefaultDialer is used for every outbound conductor connection.
var DefaultDialer = &websocket.Dialer{
	HandshakeTimeout: HandshakeTimeout,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// Address renders the conductor URL for host and port.
func Address(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Dial opens a WebSocket connection to addr.
func Dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	conn, resp, err := DefaultDialer.DialContext(ctx, addr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ReadMessage blocks for the next data frame on conn and decodes it.
//
// Errors from the connection itself are returned unchanged and are terminal.
// Errors about a single frame (see IsFrameError) leave the connection usable.
func ReadMessage(conn *websocket.Conn, c codec.Codec) (*message.Message, error) {
	kind, body, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: %s frame", ErrUnexpectedFrameKind, FrameKindName(kind))
	}
	return c.Decode(body)
}

// WriteMessage encodes msg and writes it as one binary frame.
// The caller must serialise writers; a websocket.Conn supports one writer at a time.
func WriteMessage(conn *websocket.Conn, c codec.Codec, msg *message.Message) error {
	body, err := c.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, body)
}

// WriteMessageContext is WriteMessage bounded by ctx. See WriteFrameContext.
func WriteMessageContext(ctx context.Context, conn *websocket.Conn, c codec.Codec, msg *message.Message) error {
	body, err := c.Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrameContext(ctx, conn, body)
}

// WriteFrameContext writes body as one binary frame. The write deadline is
// taken from ctx, and a cancellation interrupts a write already in progress.
//
// If ctx is already done nothing is written and ctx.Err() is returned as is.
// Any other error means a write was attempted; gorilla/websocket treats a
// failed write as fatal, so conn accepts no more data frames. Errors caused by
// ctx wrap ctx.Err().
func WriteFrameContext(ctx context.Context, conn *websocket.Conn, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		conn.NetConn().SetWriteDeadline(time.Now())
	})
	err := conn.WriteMessage(websocket.BinaryMessage, body)
	stop()

	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		// The only deadlines on conn come from ctx; its timer may lag the socket's.
		select {
		case <-ctx.Done():
		case <-time.After(closeWriteWait):
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// IsFrameError reports whether err concerns a single frame rather than the connection.
func IsFrameError(err error) bool {
	return errors.Is(err, ErrUnexpectedFrameKind) ||
		errors.Is(err, codec.ErrMalformedFrame) ||
		errors.Is(err, codec.ErrUnknownVariant)
}

// IsNormalClosure reports whether err is the peer closing the connection cleanly.
func IsNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// SendClose writes a close frame without tearing down the socket, so the
// reader can still observe the peer's close reply.
func SendClose(conn *websocket.Conn, code int, text string) error {
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeWriteWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// CloseNormal sends a normal-closure frame and closes the socket.
func CloseNormal(conn *websocket.Conn) error {
	return closeWith(conn, websocket.CloseNormalClosure, "")
}

// CloseError sends an internal-error close frame and closes the socket.
func CloseError(conn *websocket.Conn, text string) error {
	return closeWith(conn, websocket.CloseInternalServerErr, text)
}

func closeWith(conn *websocket.Conn, code int, text string) error {
	// Close frame payloads are limited to 125 bytes including the 2-byte code.
	if len(text) > 123 {
		text = text[:123]
	}
	werr := SendClose(conn, code, text)
	cerr := conn.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// FrameKindName names a websocket message type for diagnostics.
func FrameKindName(kind int) string {
	switch kind {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	case websocket.CloseMessage:
		return "close"
	case websocket.PingMessage:
		return "ping"
	case websocket.PongMessage:
		return "pong"
	default:
		return "unknown(" + strconv.Itoa(kind) + ")"
	}
}
