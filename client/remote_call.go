package client

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tixel/tryorama/codec"
	"github.com/tixel/tryorama/message"
	"github.com/tixel/tryorama/protocol"
	"github.com/tixel/tryorama/rpcerr"
)

type callOptions struct {
	logger *zap.Logger
	codec  codec.Codec
}

type CallOption func(*callOptions)

func WithCallLogger(logger *zap.Logger) CallOption {
	return func(o *callOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithCallCodec(c codec.Codec) CallOption {
	return func(o *callOptions) {
		o.codec = c
	}
}

// reply is the first thing the connection produced: a message or a read error.
type reply struct {
	msg *message.Message
	err error
}

// RemoteCall opens a fresh connection to addr, sends payload as the one
// Request on it, waits for the one Response and closes the connection.
//
// A single outstanding call needs no disambiguation, so the request id is
// empty. Connection and send failures return without waiting.
func RemoteCall(ctx context.Context, addr string, payload []byte, opts ...CallOption) ([]byte, error) {
	o := callOptions{logger: zap.NewNop(), codec: codec.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named("remote_call").With(zap.String("addr", addr))

	conn, err := protocol.Dial(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rpcerr.New(rpcerr.KindTimeout, fmt.Errorf("%w: %w", ctx.Err(), err), "gave up connecting to conductor interface")
		}
		return nil, rpcerr.New(rpcerr.KindConnect, err, "failed to connect to conductor interface")
	}

	if err := protocol.WriteMessageContext(ctx, conn, o.codec, message.NewRequest("", payload)); err != nil {
		if ctx.Err() != nil {
			// A cut-short frame cannot be followed by a close frame.
			conn.Close()
			return nil, rpcerr.New(rpcerr.KindTimeout, err, "gave up sending to conductor interface")
		}
		closeAfterFailure(conn, logger)
		return nil, rpcerr.New(rpcerr.KindSend, err, "failed to send message along conductor interface")
	}

	replies := make(chan reply, 1) // Single slot bound to this call
	go readReply(conn, o.codec, replies, logger)

	var r reply
	select {
	case r = <-replies:
	case <-ctx.Done():
		closeAfterFailure(conn, logger)
		return nil, rpcerr.New(rpcerr.KindTimeout, ctx.Err(), "gave up waiting for conductor response")
	}

	if r.err != nil {
		closeAfterFailure(conn, logger)
		if protocol.IsFrameError(r.err) {
			return nil, rpcerr.New(rpcerr.KindDecode, r.err, "failed to parse conductor response")
		}
		return nil, rpcerr.New(rpcerr.KindClosed, r.err, "conductor interface closed before responding")
	}
	if r.msg.Kind != message.KindResponse {
		closeAfterFailure(conn, logger)
		return nil, rpcerr.New(rpcerr.KindProtocolShape, nil, "failed to parse conductor response: unexpected message type from conductor: %s", r.msg)
	}

	if err := protocol.CloseNormal(conn); err != nil {
		logger.Debug("failed to close conductor interface connection", zap.Error(err))
	}
	return r.msg.Data, nil
}

// readReply hands the first frame (or read error) to replies. Anything after
// that is a protocol violation: it is logged and ignored until the
// connection goes away.
func readReply(conn *websocket.Conn, c codec.Codec, replies chan<- reply, logger *zap.Logger) {
	delivered := false
	for {
		msg, err := protocol.ReadMessage(conn, c)
		if !delivered {
			delivered = true
			replies <- reply{msg: msg, err: err}
		} else if err == nil || protocol.IsFrameError(err) {
			logger.Warn("ignoring conductor interface response")
		}
		if err != nil && !protocol.IsFrameError(err) {
			return
		}
	}
}

// closeAfterFailure closes conn with an error code so the conductor does not
// keep a half-used socket around.
func closeAfterFailure(conn *websocket.Conn, logger *zap.Logger) {
	if err := protocol.CloseError(conn, "relay call failed"); err != nil {
		logger.Warn("silently ignoring error: failed to close conductor interface connection", zap.Error(err))
	}
}
