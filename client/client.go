// Package client is the relay's caller-facing surface.
//
// It offers the two ways of talking to a conductor:
//
//   - one-shot calls (RemoteCall, Client.Call, Client.CallPort): a fresh
//     connection per call, torn down after the single response;
//   - app sessions (Client.ConnectApp and friends): one persistent connection
//     per app interface port, shared by concurrent requests, accumulating
//     signals until polled.
//
// Both paths run through the same middleware chain.
package client

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tixel/tryorama/loadbalance"
	"github.com/tixel/tryorama/middleware"
	"github.com/tixel/tryorama/protocol"
	"github.com/tixel/tryorama/registry"
	"github.com/tixel/tryorama/rpcerr"
	"github.com/tixel/tryorama/transport"
)

const DefaultHost = "localhost"

type Client struct {
	registry    registry.Registry // Resolves conductor names
	balancer    loadbalance.Balancer
	host        string // Host for port-addressed calls and app sessions
	logger      *zap.Logger
	middlewares []middleware.Middleware
	sessionOpts []transport.Option
	callHandler middleware.HandlerFunc // middleware(...(RemoteCall))

	mu     sync.Mutex
	apps   map[int]*appEntry // App sessions by port
	closed bool
	done   chan struct{} // Closed by Close
}

// appEntry tracks one app port. ready closes when the first session for the
// port is established.
type appEntry struct {
	ready   chan struct{}
	session *transport.Session
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHost(host string) Option {
	return func(c *Client) {
		c.host = host
	}
}

// WithMiddleware appends middlewares, applied in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithSessionOptions configures every app session the client opens.
func WithSessionOptions(opts ...transport.Option) Option {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// NewClient builds a client. A nil registry means an empty StaticRegistry and
// a nil balancer means round robin.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry: reg,
		balancer: bal,
		host:     DefaultHost,
		logger:   zap.NewNop(),
		apps:     make(map[int]*appEntry),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = registry.NewStaticRegistry()
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	c.logger = c.logger.Named("relay")
	c.sessionOpts = append([]transport.Option{transport.WithLogger(c.logger)}, c.sessionOpts...)

	// Build the chain once; Chain(A, B)(h) runs A.before → B.before → h.
	c.callHandler = middleware.Chain(c.middlewares...)(c.remoteCall)
	return c
}

func (c *Client) remoteCall(ctx context.Context, call *middleware.Call) ([]byte, error) {
	return RemoteCall(ctx, call.Addr, call.Payload, WithCallLogger(c.logger))
}

// Call performs a one-shot call against a conductor registered under name.
func (c *Client) Call(ctx context.Context, name string, payload []byte) ([]byte, error) {
	instances, err := c.registry.Discover(ctx, name)
	if err != nil {
		return nil, rpcerr.New(rpcerr.KindDiscovery, err, "failed to look up conductor %q", name)
	}

	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, rpcerr.New(rpcerr.KindDiscovery, err, "no interface for conductor %q", name)
	}

	return c.callHandler(ctx, &middleware.Call{Addr: instance.Addr(), Payload: payload})
}

// CallPort performs a one-shot call against the conductor interface on port.
func (c *Client) CallPort(ctx context.Context, port int, payload []byte) ([]byte, error) {
	return c.callHandler(ctx, &middleware.Call{Addr: protocol.Address(c.host, port), Payload: payload})
}

// ConnectApp starts connecting an app session to port and returns
// immediately. Failures are only logged; use WaitApp to synchronise.
// A session established later for the same port replaces the current one.
func (c *Client) ConnectApp(ctx context.Context, port int) {
	c.mu.Lock()
	c.entryLocked(port)
	c.mu.Unlock()

	transport.Connect(ctx, protocol.Address(c.host, port), func(s *transport.Session) {
		c.attachApp(port, s)
	}, c.sessionOpts...)
}

// WaitApp blocks until an app session for port is established or ctx ends.
func (c *Client) WaitApp(ctx context.Context, port int) error {
	c.mu.Lock()
	e := c.entryLocked(port)
	c.mu.Unlock()

	select {
	case <-e.ready:
		return nil
	case <-c.done:
		return rpcerr.New(rpcerr.KindNotConnected, nil, "client closed before app interface on port %d was established", port)
	case <-ctx.Done():
		return rpcerr.New(rpcerr.KindNotConnected, ctx.Err(), "app interface on port %d was not established", port)
	}
}

func (c *Client) entryLocked(port int) *appEntry {
	e, ok := c.apps[port]
	if !ok {
		e = &appEntry{ready: make(chan struct{})}
		c.apps[port] = e
	}
	return e
}

func (c *Client) attachApp(port int, s *transport.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Close()
		return
	}
	e := c.entryLocked(port)
	old := e.session
	e.session = s
	if old == nil {
		close(e.ready)
	}
	c.mu.Unlock()

	if old != nil {
		c.logger.Info("replacing app interface session", zap.Int("port", port))
		old.Close()
	}

	go func() {
		<-s.Done()
		c.detachApp(port, s)
	}()
}

// detachApp forgets port once its session has ended, unless a newer session
// has taken its place.
func (c *Client) detachApp(port int, s *transport.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.apps[port]; ok && e.session == s {
		delete(c.apps, port)
	}
}

func (c *Client) session(port int) (*transport.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.apps[port]; ok && e.session != nil {
		return e.session, nil
	}
	return nil, rpcerr.New(rpcerr.KindNotConnected, nil, "no app interface connection on port %d", port)
}

// AppRequest sends payload through the app session on port and waits for the
// matching response.
func (c *Client) AppRequest(ctx context.Context, port int, payload []byte) ([]byte, error) {
	s, err := c.session(port)
	if err != nil {
		return nil, err
	}

	handler := middleware.Chain(c.middlewares...)(func(ctx context.Context, call *middleware.Call) ([]byte, error) {
		return s.SendRequest(ctx, call.Payload)
	})
	return handler(ctx, &middleware.Call{Addr: s.Addr(), Payload: payload})
}

// PollSignals drains the signals the app session on port has received since
// the previous poll, base64-encoded and oldest first.
func (c *Client) PollSignals(port int) ([]string, error) {
	s, err := c.session(port)
	if err != nil {
		return nil, err
	}
	return s.DrainSignals(), nil
}

// DisconnectApp closes the app session on port. Pending requests on it fail.
func (c *Client) DisconnectApp(port int) error {
	c.mu.Lock()
	e, ok := c.apps[port]
	delete(c.apps, port)
	c.mu.Unlock()

	if !ok || e.session == nil {
		return rpcerr.New(rpcerr.KindNotConnected, nil, "no app interface connection on port %d", port)
	}
	return e.session.Close()
}

// Close disconnects every app session and releases WaitApp callers. Sessions
// still being established are closed as soon as they arrive.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	apps := c.apps
	c.apps = make(map[int]*appEntry)
	c.mu.Unlock()

	for _, e := range apps {
		if e.session != nil {
			e.session.Close()
		}
	}
	return nil
}
