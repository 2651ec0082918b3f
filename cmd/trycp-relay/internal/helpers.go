// Package internal wires configuration, logging and the relay client for
// the trycp-relay subcommands.
package internal

import (
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"github.com/tixel/tryorama/client"
	"github.com/tixel/tryorama/config"
	"github.com/tixel/tryorama/loadbalance"
	"github.com/tixel/tryorama/logger"
	"github.com/tixel/tryorama/middleware"
	"github.com/tixel/tryorama/registry"
	"github.com/tixel/tryorama/transport"
)

// Runtime is what every subcommand starts from.
type Runtime struct {
	Config *config.Config
	Logger *zap.Logger

	closers []func() error
}

// Setup loads the environment configuration and builds the logger. debug
// forces the debug level.
func Setup(debug bool) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logger.Level = "debug"
	}
	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Runtime{Config: cfg, Logger: lg}, nil
}

// Registry returns the etcd registry when endpoints are configured and an
// empty in-memory one otherwise.
func (r *Runtime) Registry() (registry.Registry, error) {
	if len(r.Config.Etcd.Endpoints) == 0 {
		return registry.NewStaticRegistry(), nil
	}
	reg, err := registry.NewEtcdRegistry(r.Config.Etcd.Endpoints, r.Logger)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, reg.Close)
	return reg, nil
}

func (r *Runtime) Balancer() loadbalance.Balancer {
	if r.Config.Balancer == "weighted_random" {
		return &loadbalance.WeightedRandomBalancer{}
	}
	return &loadbalance.RoundRobinBalancer{}
}

// Middlewares returns the configured call chain, outermost first.
func (r *Runtime) Middlewares() []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(r.Logger)}
	if r.Config.Call.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(r.Config.Call.RateLimit, r.Config.Call.RateBurst))
	}
	if r.Config.Call.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(r.Config.Call.Timeout))
	}
	return mws
}

func (r *Runtime) NewClient() (*client.Client, error) {
	reg, err := r.Registry()
	if err != nil {
		return nil, err
	}
	cli := client.NewClient(reg, r.Balancer(),
		client.WithLogger(r.Logger),
		client.WithHost(r.Config.Host),
		client.WithMiddleware(r.Middlewares()...),
		client.WithSessionOptions(transport.WithHeartbeat(r.Config.Call.Heartbeat)),
	)
	r.closers = append(r.closers, cli.Close)
	return cli, nil
}

// Close releases everything the runtime opened, newest first.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.Logger.Debug("close", zap.Error(err))
		}
	}
	_ = r.Logger.Sync()
}

// DecodePayload reads a request payload given on the command line, either
// base64 or, with text set, taken literally.
func DecodePayload(data string, text bool) ([]byte, error) {
	if text {
		return []byte(data), nil
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("payload is not valid base64: %w", err)
	}
	return payload, nil
}

func EncodePayload(payload []byte, text bool) string {
	if text {
		return string(payload)
	}
	return base64.StdEncoding.EncodeToString(payload)
}
