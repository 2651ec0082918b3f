// Package registry resolves conductor names to the interfaces they listen on.
//
// Whoever launches conductors registers each admin or app interface here;
// the relay only discovers them.
package registry

import (
	"context"
	"strings"

	"github.com/tixel/tryorama/protocol"
)

type ConductorInstance struct {
	Name   string `json:"name"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Weight int    `json:"weight,omitempty"` // Weight for load balancing
}

// Addr is the WebSocket URL of the instance.
func (c ConductorInstance) Addr() string {
	return protocol.Address(c.Host, c.Port)
}

// Endpoint is the host:port key the instance is registered under.
func (c ConductorInstance) Endpoint() string {
	return strings.TrimPrefix(c.Addr(), "ws://")
}

type Registry interface {
	Register(ctx context.Context, instance ConductorInstance, ttl int64) error
	Deregister(ctx context.Context, name string, endpoint string) error
	Discover(ctx context.Context, name string) ([]ConductorInstance, error)
	Watch(ctx context.Context, name string) <-chan []ConductorInstance
}
