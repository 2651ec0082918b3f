// Package server implements an in-process conductor that speaks the relay's
// wire protocol. It backs the relay's tests and local smoke runs.
//
// Processing pipeline:
//
//	HTTP upgrade → readLoop (single goroutine reads frames of one peer)
//	  → for each Request: go handle (parallel processing)
//	    → HandlerFunc decides what to write back through the Peer
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tixel/tryorama/codec"
	"github.com/tixel/tryorama/message"
	"github.com/tixel/tryorama/protocol"
)

// HandlerFunc serves one Request. It answers through p, in any order and any
// number of frames, including none.
type HandlerFunc func(ctx context.Context, p *Peer, req *message.Message)

// EchoHandler answers every request with a Response carrying the same id and payload.
func EchoHandler(_ context.Context, p *Peer, req *message.Message) {
	p.Respond(req.ID, req.Data)
}

// Server is a conductor double accepting app-interface WebSocket connections.
type Server struct {
	handler  HandlerFunc
	codec    codec.Codec
	logger   *zap.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	httpSrv  *http.Server
	wg       sync.WaitGroup // In-flight handlers, for graceful shutdown
	shutdown atomic.Bool

	mu    sync.Mutex
	peers map[*Peer]struct{}
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithCodec(c codec.Codec) Option {
	return func(s *Server) {
		s.codec = c
	}
}

func NewServer(handler HandlerFunc, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		codec:   codec.Default(),
		logger:  zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*Peer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("conductor")
	return s
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	p := &Peer{conn: conn, codec: s.codec}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		conn.Close()
	}()

	s.readLoop(r.Context(), p)
}

// readLoop is the single reader of one peer's connection. Requests are
// dispatched to their own goroutine so a slow handler does not stall the peer.
func (s *Server) readLoop(ctx context.Context, p *Peer) {
	for {
		msg, err := protocol.ReadMessage(p.conn, s.codec)
		if err != nil {
			if protocol.IsFrameError(err) {
				s.logger.Warn("dropping unreadable frame", zap.Error(err))
				continue
			}
			return
		}
		if msg.Kind != message.KindRequest {
			s.logger.Warn("dropping non-request message", zap.Stringer("message", msg))
			continue
		}

		if !s.startHandler() {
			s.logger.Debug("dropping request during shutdown", zap.Stringer("message", msg))
			continue
		}
		go func(req *message.Message) {
			defer s.wg.Done()
			s.handler(ctx, p, req)
		}(msg)
	}
}

// startHandler reserves a wg slot for one handler. It fails once Shutdown has
// begun, so no Add can race with Shutdown's Wait.
func (s *Server) startHandler() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// Serve listens on address and serves until Shutdown.
func (s *Server) Serve(network, address string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(l)
}

func (s *Server) ServeListener(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.httpSrv = &http.Server{Handler: s, ReadHeaderTimeout: protocol.HandshakeTimeout}
	srv := s.httpSrv
	s.mu.Unlock()

	err := srv.Serve(l)
	if s.shutdown.Load() && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the ws:// URL of the listener, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "ws://" + s.listener.Addr().String()
}

// Broadcast pushes a Signal to every connected peer.
func (s *Server) Broadcast(data []byte) error {
	var errs []error
	for _, p := range s.Peers() {
		if err := p.Signal(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Shutdown stops accepting connections, closes every peer and waits for
// in-flight handlers to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
	for _, p := range s.Peers() {
		p.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// Peer is one connected relay as seen by the conductor.
type Peer struct {
	conn    *websocket.Conn
	codec   codec.Codec
	writeMu sync.Mutex
}

func (p *Peer) Send(msg *message.Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.WriteMessage(p.conn, p.codec, msg)
}

func (p *Peer) Respond(id string, data []byte) error {
	return p.Send(message.NewResponse(id, data))
}

func (p *Peer) Signal(data []byte) error {
	return p.Send(message.NewSignal(data))
}

// SendRaw writes an arbitrary websocket data frame, bypassing the codec.
func (p *Peer) SendRaw(frameKind int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(frameKind, data)
}

// Close performs a normal close handshake from the conductor side.
func (p *Peer) Close() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.CloseNormal(p.conn)
}

// Drop tears the TCP connection down without a close frame.
func (p *Peer) Drop() error {
	return p.conn.Close()
}
