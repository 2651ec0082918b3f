// Package loadbalance picks one conductor interface when a name resolves to several.
//
//   - RoundRobin:     spread one-shot calls evenly
//   - WeightedRandom: favour interfaces registered with a higher weight
package loadbalance

import "github.com/tixel/tryorama/registry"

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each one-shot call; it must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ConductorInstance) (*registry.ConductorInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
