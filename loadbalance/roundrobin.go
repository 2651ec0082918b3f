package loadbalance

import (
	"fmt"
	"sync/atomic"

	"github.com/tixel/tryorama/registry"
)

// RoundRobinBalancer cycles through instances with a lock-free counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ConductorInstance) (*registry.ConductorInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no conductor instances available")
	}
	index := (b.counter.Add(1) - 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
