package serve

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tixel/tryorama/client"
)

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "serve", cmd.Use)
	for _, name := range []string{"addr", "name", "register", "weight", "signal-every"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestServeEchoesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- serveCmd(ctx, pw, options{addr: "127.0.0.1:0"})
		pw.Close()
	}()

	line, err := bufio.NewReader(pr).ReadString('\n')
	require.NoError(t, err)
	addr := strings.TrimSpace(strings.TrimPrefix(line, "conductor listening on"))
	require.True(t, strings.HasPrefix(addr, "ws://127.0.0.1:"), line)

	reply, err := client.RemoteCall(context.Background(), addr, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(reply))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestServeRegisterNeedsEtcd(t *testing.T) {
	t.Setenv("TRYCP_ETCD_ENDPOINTS", "")

	var out bytes.Buffer
	err := serveCmd(context.Background(), &out, options{addr: "127.0.0.1:0", register: true, name: "alice"})
	assert.ErrorContains(t, err, "TRYCP_ETCD_ENDPOINTS")
}
