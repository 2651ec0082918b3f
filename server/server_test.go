package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tixel/tryorama/codec"
	"github.com/tixel/tryorama/message"
	"github.com/tixel/tryorama/protocol"
)

func startServer(t *testing.T, handler HandlerFunc) *Server {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(handler)
	go srv.ServeListener(l)
	t.Cleanup(func() { srv.Shutdown(time.Second) })

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)
	return srv
}

func dial(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	conn, err := protocol.Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEchoHandler(t *testing.T) {
	srv := startServer(t, EchoHandler)
	conn := dial(t, srv.Addr())
	c := codec.Default()

	require.NoError(t, protocol.WriteMessage(conn, c, message.NewRequest("1", []byte("ping"))))

	msg, err := protocol.ReadMessage(conn, c)
	require.NoError(t, err)
	assert.Equal(t, message.NewResponse("1", []byte("ping")), msg)
}

func TestNonRequestFramesAreDropped(t *testing.T) {
	srv := startServer(t, EchoHandler)
	conn := dial(t, srv.Addr())
	c := codec.Default()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not binary")))
	require.NoError(t, protocol.WriteMessage(conn, c, message.NewSignal([]byte("ignored"))))
	require.NoError(t, protocol.WriteMessage(conn, c, message.NewRequest("2", []byte("still served"))))

	msg, err := protocol.ReadMessage(conn, c)
	require.NoError(t, err)
	assert.Equal(t, message.NewResponse("2", []byte("still served")), msg)
}

func TestBroadcast(t *testing.T) {
	srv := startServer(t, EchoHandler)
	first := dial(t, srv.Addr())
	second := dial(t, srv.Addr())

	require.Eventually(t, func() bool { return len(srv.Peers()) == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Broadcast([]byte("event")))

	for _, conn := range []*websocket.Conn{first, second} {
		msg, err := protocol.ReadMessage(conn, codec.Default())
		require.NoError(t, err)
		assert.Equal(t, message.NewSignal([]byte("event")), msg)
	}
}

func TestShutdownClosesPeers(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(EchoHandler)
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(l) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)

	conn := dial(t, srv.Addr())
	require.Eventually(t, func() bool { return len(srv.Peers()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(time.Second))
	assert.NoError(t, <-served)

	_, _, err = conn.ReadMessage()
	assert.True(t, protocol.IsNormalClosure(err))
}

func TestShutdownWaitsForHandlers(t *testing.T) {
	release := make(chan struct{})
	srv := startServer(t, func(ctx context.Context, p *Peer, req *message.Message) {
		<-release
	})
	conn := dial(t, srv.Addr())

	require.NoError(t, protocol.WriteMessage(conn, codec.Default(), message.NewRequest("1", nil)))
	time.Sleep(50 * time.Millisecond)

	assert.Error(t, srv.Shutdown(50*time.Millisecond))
	close(release)
	assert.NoError(t, srv.Shutdown(time.Second))
}

func TestNoHandlerStartsAfterShutdown(t *testing.T) {
	srv := NewServer(EchoHandler)

	// Requests keep arriving while Shutdown waits for in-flight handlers.
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if srv.startHandler() {
					srv.wg.Done()
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, srv.Shutdown(time.Second))
	assert.False(t, srv.startHandler())

	close(stop)
	wg.Wait()
}
