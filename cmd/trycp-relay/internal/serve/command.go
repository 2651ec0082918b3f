package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tixel/tryorama/cmd/trycp-relay/internal"
	"github.com/tixel/tryorama/registry"
	"github.com/tixel/tryorama/server"
)

// registrationTTL is the lease, in seconds, of a conductor registered in etcd.
const registrationTTL = 10

type options struct {
	addr        string
	name        string
	register    bool
	weight      int
	signalEvery time.Duration
	debug       bool
}

func NewServeCommand() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run an echo conductor for local smoke tests",
		Example: "trycp-relay serve --addr 127.0.0.1:4444 --signal-every 1s",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmd(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	cmd.Flags().StringVarP(&o.addr, "addr", "a", "127.0.0.1:4444", "Address to listen on")
	cmd.Flags().StringVarP(&o.name, "name", "n", "conductor", "Conductor name used when registering")
	cmd.Flags().BoolVar(&o.register, "register", false, "Register the conductor in etcd (TRYCP_ETCD_ENDPOINTS)")
	cmd.Flags().IntVar(&o.weight, "weight", 1, "Weight for weighted_random balancing")
	cmd.Flags().DurationVar(&o.signalEvery, "signal-every", 0, "Broadcast a counter signal at this interval (0 disables)")
	cmd.Flags().BoolVarP(&o.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func serveCmd(ctx context.Context, out io.Writer, o options) error {
	rt, err := internal.Setup(o.debug)
	if err != nil {
		return err
	}
	defer rt.Close()

	l, err := net.Listen("tcp", o.addr)
	if err != nil {
		return err
	}

	srv := server.NewServer(server.EchoHandler, server.WithLogger(rt.Logger))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ServeListener(l)
	}()

	if _, err := fmt.Fprintln(out, "conductor listening on", "ws://"+l.Addr().String()); err != nil {
		return err
	}

	if o.register {
		deregister, err := register(ctx, rt, o, l.Addr())
		if err != nil {
			l.Close()
			srv.Shutdown(time.Second)
			return err
		}
		defer deregister()
	}

	if o.signalEvery > 0 {
		go broadcastLoop(ctx, srv, o.signalEvery, rt.Logger)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	rt.Logger.Info("shutting down conductor")
	return srv.Shutdown(5 * time.Second)
}

func register(ctx context.Context, rt *internal.Runtime, o options, addr net.Addr) (func(), error) {
	if len(rt.Config.Etcd.Endpoints) == 0 {
		return nil, fmt.Errorf("--register needs TRYCP_ETCD_ENDPOINTS")
	}
	reg, err := rt.Registry()
	if err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	instance := registry.ConductorInstance{Name: o.name, Host: host, Port: port, Weight: o.weight}
	if err := reg.Register(ctx, instance, registrationTTL); err != nil {
		return nil, err
	}
	rt.Logger.Info("conductor registered", zap.String("name", o.name), zap.String("endpoint", instance.Endpoint()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := reg.Deregister(ctx, o.name, instance.Endpoint()); err != nil {
			rt.Logger.Warn("failed to deregister conductor", zap.Error(err))
		}
	}, nil
}

func broadcastLoop(ctx context.Context, srv *server.Server, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := srv.Broadcast([]byte(strconv.Itoa(n))); err != nil {
				logger.Debug("broadcast failed", zap.Error(err))
			}
		}
	}
}
