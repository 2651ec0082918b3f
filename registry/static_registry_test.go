package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConductorInstanceAddr(t *testing.T) {
	inst := ConductorInstance{Name: "alice", Host: "localhost", Port: 9000}
	assert.Equal(t, "ws://localhost:9000", inst.Addr())
	assert.Equal(t, "localhost:9000", inst.Endpoint())
}

func TestStaticRegisterAndDiscover(t *testing.T) {
	ctx := context.Background()
	reg := NewStaticRegistry(ConductorInstance{Name: "alice", Host: "127.0.0.1", Port: 8002})

	require.NoError(t, reg.Register(ctx, ConductorInstance{Name: "alice", Host: "127.0.0.1", Port: 8001}, 0))
	require.NoError(t, reg.Register(ctx, ConductorInstance{Name: "bob", Host: "127.0.0.1", Port: 9001}, 0))

	instances, err := reg.Discover(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, 8001, instances[0].Port)
	assert.Equal(t, 8002, instances[1].Port)

	require.NoError(t, reg.Deregister(ctx, "alice", "127.0.0.1:8001"))
	instances, err = reg.Discover(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, 8002, instances[0].Port)

	instances, err = reg.Discover(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, instances)

	assert.Error(t, reg.Register(ctx, ConductorInstance{Host: "x", Port: 1}, 0))
}

func TestStaticWatch(t *testing.T) {
	reg := NewStaticRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "alice")
	require.NoError(t, reg.Register(context.Background(), ConductorInstance{Name: "alice", Host: "h", Port: 1}, 0))

	select {
	case list := <-updates:
		require.Len(t, list, 1)
		assert.Equal(t, 1, list[0].Port)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-updates
		return !open
	}, time.Second, 10*time.Millisecond)
}
