package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Needs a running etcd; set TRYCP_ETCD_ENDPOINTS (comma separated) to enable.
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("TRYCP_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("TRYCP_ETCD_ENDPOINTS not set")
	}

	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), nil)
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst1 := ConductorInstance{Name: "alice", Host: "127.0.0.1", Port: 8001, Weight: 10}
	inst2 := ConductorInstance{Name: "alice", Host: "127.0.0.1", Port: 8002, Weight: 5}

	require.NoError(t, reg.Register(ctx, inst1, 10))
	require.NoError(t, reg.Register(ctx, inst2, 10))

	instances, err := reg.Discover(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "alice", inst1.Endpoint()))

	instances, err = reg.Discover(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, inst2, instances[0])

	require.NoError(t, reg.Deregister(ctx, "alice", inst2.Endpoint()))
}
