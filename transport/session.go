// Package transport implements the persistent app-interface session.
//
// A Session multiplexes many concurrent requests and an unsolicited signal
// stream over one WebSocket. Each request gets a fresh id; a single background
// goroutine (recvLoop) reads every inbound frame in arrival order and either
// hands a Response to the caller waiting on its id or appends a Signal to the
// shared buffer that a poller drains.
//
//	goroutine-1 ──SendRequest(id=a)──┐
//	goroutine-2 ──SendRequest(id=b)──┼──→ one websocket ──→ conductor
//	poller      ──DrainSignals()─────┘
//
//	recvLoop:  ←── Response(b) → pending[b] → goroutine-2 wakes up
//	           ←── Signal      → signals = append(signals, base64(data))
package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tixel/tryorama/codec"
	"github.com/tixel/tryorama/message"
	"github.com/tixel/tryorama/protocol"
	"github.com/tixel/tryorama/rpcerr"
)

// maxIDAttempts bounds how often register retries after an id collision.
const maxIDAttempts = 8

// State is the lifecycle position of a Session. It only moves forward:
//
//	Connecting → Established → ClosedNormal | ClosedError
type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateClosedNormal
	StateClosedError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosedNormal:
		return "closed"
	case StateClosedError:
		return "closed with error"
	default:
		return "unknown"
	}
}

// Closed reports whether s is terminal.
func (s State) Closed() bool {
	return s == StateClosedNormal || s == StateClosedError
}

type options struct {
	logger       *zap.Logger
	codec        codec.Codec
	heartbeat    time.Duration
	closeTimeout time.Duration
	newID        func() string
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithHeartbeat sets the ping interval. Zero disables keep-alive pings.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeat = interval
	}
}

// WithCloseTimeout bounds how long Close waits for the conductor to answer
// the close handshake before dropping the socket.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

// WithIDGenerator replaces the uuid request-id generator.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		o.newID = newID
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		codec:        codec.Default(),
		heartbeat:    30 * time.Second,
		closeTimeout: time.Second,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Session is one persistent connection to a conductor app interface.
type Session struct {
	addr   string
	conn   *websocket.Conn
	opts   options
	logger *zap.Logger
	app    *AppConnection

	sendSlot chan struct{} // Held by the one data writer on conn
	state    atomic.Int32  // State
	closing  atomic.Bool   // Close was called locally

	done chan struct{}
	err  error // Terminal cause, written before done is closed
}

func newSession(addr string, o options) *Session {
	s := &Session{
		addr:     addr,
		opts:     o,
		logger:   o.logger.Named("session").With(zap.String("addr", addr)),
		app:      NewAppConnection(),
		sendSlot: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// Dial opens a session to addr and starts its receive loop. It returns once
// the connection is established.
func Dial(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	s := newSession(addr, newOptions(opts))
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect establishes a session in the background and does not block.
// onEstablished runs exactly once, on the background goroutine, if and only if
// the connection opens. A failure to connect is logged and nothing is retried.
func Connect(ctx context.Context, addr string, onEstablished func(*Session), opts ...Option) {
	o := newOptions(opts)
	go func() {
		s := newSession(addr, o)
		if err := s.open(ctx); err != nil {
			s.logger.Warn("failed to connect to app interface", zap.Error(err))
			return
		}
		onEstablished(s)
	}()
}

func (s *Session) open(ctx context.Context) error {
	conn, err := protocol.Dial(ctx, s.addr)
	if err != nil {
		s.err = rpcerr.New(rpcerr.KindConnect, err, "failed to connect to app interface %s", s.addr)
		s.app.failAll(s.err)
		s.state.Store(int32(StateClosedError))
		close(s.done)
		return s.err
	}

	s.conn = conn
	s.state.Store(int32(StateEstablished))
	s.logger.Debug("app interface connected")

	go s.recvLoop()
	if s.opts.heartbeat > 0 {
		go s.heartbeatLoop(s.opts.heartbeat)
	}
	return nil
}

// SendRequest issues one request and blocks until its response arrives, the
// session ends, or ctx is done.
//
// The pending entry is registered before the frame is written, so the
// receive loop can never see the response before the entry exists.
func (s *Session) SendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	if st := s.State(); st != StateEstablished {
		return nil, rpcerr.New(rpcerr.KindClosed, nil, "app interface %s is %s", s.addr, st)
	}

	id, ch, err := s.register()
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, message.NewRequest(id, payload)); err != nil && s.app.forget(id) {
		if ctx.Err() != nil {
			return nil, rpcerr.New(rpcerr.KindTimeout, err, "request %s to app interface abandoned while sending", id)
		}
		return nil, rpcerr.New(rpcerr.KindSend, err, "failed to send message along app interface")
	}
	// If forget lost the race, termination already delivered to ch.

	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		if s.app.forget(id) {
			return nil, rpcerr.New(rpcerr.KindTimeout, ctx.Err(), "request %s to app interface abandoned", id)
		}
		r := <-ch
		return r.data, r.err
	}
}

// send writes msg once the writer slot is free, giving up when ctx ends. A
// write that fails part way leaves the socket unusable, so the connection is
// dropped and the receive loop ends the session.
func (s *Session) send(ctx context.Context, msg *message.Message) error {
	body, err := s.opts.codec.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case s.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sendSlot }()

	err = protocol.WriteFrameContext(ctx, s.conn, body)
	if err != nil && err != ctx.Err() {
		s.conn.Close()
	}
	return err
}

func (s *Session) register() (string, <-chan result, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := s.opts.newID()
		ch, err := s.app.register(id)
		if errors.Is(err, errDuplicateID) {
			continue
		}
		return id, ch, err
	}
	return "", nil, rpcerr.New(rpcerr.KindSend, errDuplicateID, "could not allocate a request id")
}

// recvLoop is the only reader of conn. Frames are handled one at a time in
// arrival order; frame-level problems are logged and skipped, and only a
// connection-level error ends the loop.
func (s *Session) recvLoop() {
	for {
		msg, err := protocol.ReadMessage(s.conn, s.opts.codec)
		if err != nil {
			if protocol.IsFrameError(err) {
				s.logger.Warn("could not parse message from app interface; dropping", zap.Error(err))
				continue
			}
			s.terminate(err)
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg *message.Message) {
	switch msg.Kind {
	case message.KindSignal:
		s.app.pushSignal(msg.Data)
	case message.KindResponse:
		if !s.app.deliver(msg.ID, msg.Data) {
			s.logger.Warn("received unexpected response from app interface; dropping",
				zap.String("id", msg.ID), zap.String("kind", string(rpcerr.KindUnmatchedResponse)))
		}
	case message.KindRequest:
		s.logger.Warn("received unexpected request from app interface; dropping",
			zap.String("id", msg.ID), zap.String("kind", string(rpcerr.KindUnexpectedVariant)))
	}
}

// terminate runs once, on the receive loop, when the connection ends.
func (s *Session) terminate(cause error) {
	final := StateClosedError
	if s.closing.Load() || protocol.IsNormalClosure(cause) {
		final = StateClosedNormal
	}

	s.err = rpcerr.New(rpcerr.KindClosed, cause, "app interface %s closed", s.addr)
	s.state.Store(int32(final))
	failed := s.app.failAll(s.err)
	s.conn.Close()
	close(s.done)

	if final == StateClosedNormal {
		s.logger.Debug("app interface closed", zap.Int("failed_pending", failed))
	} else {
		s.logger.Warn("app interface connection lost", zap.Error(cause), zap.Int("failed_pending", failed))
	}
}

// heartbeatLoop pings the conductor until the session ends. Control frames
// may be written concurrently with data frames, so it does not take sendSlot.
func (s *Session) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				s.logger.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// Close performs the close handshake and waits for the receive loop to end.
// Pending requests fail with rpcerr.KindClosed. Close is idempotent.
func (s *Session) Close() error {
	if !s.closing.CompareAndSwap(false, true) || s.conn == nil {
		<-s.done
		return nil
	}

	select {
	case <-s.done:
		return nil
	default:
	}

	err := protocol.SendClose(s.conn, websocket.CloseNormalClosure, "")
	select {
	case <-s.done:
	case <-time.After(s.opts.closeTimeout):
		// No close reply; dropping the socket unblocks the reader.
		s.conn.Close()
		<-s.done
	}
	return err
}

// DrainSignals returns the base64 signal payloads received since the last
// drain, oldest first.
func (s *Session) DrainSignals() []string {
	return s.app.DrainSignals()
}

// Pending returns how many requests are waiting for a response.
func (s *Session) Pending() int {
	return s.app.Pending()
}

func (s *Session) App() *AppConnection {
	return s.app
}

func (s *Session) Addr() string {
	return s.addr
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is still open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
