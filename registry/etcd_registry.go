// etcd-backed Registry.
//
// Conductor interfaces are stored as:
//
//	Key:   /trycp/conductors/{Name}/{Host:Port}
//	Value: JSON-encoded ConductorInstance
//
// Registration uses TTL-based leases: when the launcher dies, its lease
// expires and the conductor disappears instead of lingering as a ghost.

package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/trycp/conductors/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	logger *zap.Logger
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdRegistry{client: c, logger: logger.Named("registry")}, nil
}

func prefixFor(name string) string {
	return keyPrefix + name + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive for as long as ctx lives.
//
// leaseID stays local so several launchers may share one EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, instance ConductorInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, prefixFor(instance.Name)+instance.Endpoint(), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, name string, endpoint string) error {
	_, err := r.client.Delete(ctx, prefixFor(name)+endpoint)
	return err
}

// Watch emits the full instance list whenever anything under name changes.
// The channel closes when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []ConductorInstance {
	ch := make(chan []ConductorInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefixFor(name), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the whole list; simpler than applying individual events.
			instances, err := r.Discover(ctx, name)
			if err != nil {
				r.logger.Warn("failed to refresh conductor instances", zap.String("name", name), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered under name.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]ConductorInstance, error) {
	resp, err := r.client.Get(ctx, prefixFor(name), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ConductorInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ConductorInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed conductor entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
