package listen

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tixel/tryorama/cmd/trycp-relay/internal"
)

type options struct {
	port           int
	interval       time.Duration
	connectTimeout time.Duration
	duration       time.Duration
	request        string
	text           bool
	debug          bool
}

func NewListenCommand() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:     "listen",
		Aliases: []string{"l"},
		Short:   "Open an app interface session and print signals as they arrive",
		Example: "trycp-relay listen --port 4445 --interval 500ms",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listenCmd(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "App interface port on TRYCP_HOST")
	cmd.Flags().DurationVar(&o.interval, "interval", time.Second, "How often to poll for signals")
	cmd.Flags().DurationVar(&o.connectTimeout, "connect-timeout", 10*time.Second, "How long to wait for the session to open")
	cmd.Flags().DurationVar(&o.duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&o.request, "request", "", "Send this base64 payload once the session is open and print the response")
	cmd.Flags().BoolVar(&o.text, "text", false, "Treat payloads and signals as plain text")
	cmd.Flags().BoolVarP(&o.debug, "debug", "d", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("port")

	return cmd
}

func listenCmd(ctx context.Context, out io.Writer, o options) error {
	if o.interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", o.interval)
	}

	rt, err := internal.Setup(o.debug)
	if err != nil {
		return err
	}
	defer rt.Close()

	cli, err := rt.NewClient()
	if err != nil {
		return err
	}

	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	cli.ConnectApp(ctx, o.port)
	waitCtx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	err = cli.WaitApp(waitCtx, o.port)
	cancel()
	if err != nil {
		return err
	}
	rt.Logger.Info("listening for signals", zap.Int("port", o.port))

	if o.request != "" {
		payload, err := internal.DecodePayload(o.request, o.text)
		if err != nil {
			return err
		}
		reply, err := cli.AppRequest(ctx, o.port, payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(out, "response %s\n", internal.EncodePayload(reply, o.text)); err != nil {
			return err
		}
	}

	return pollLoop(ctx, out, cli.PollSignals, o)
}

// pollLoop prints signals every interval until ctx ends, then prints whatever
// arrived since the last tick.
func pollLoop(ctx context.Context, out io.Writer, poll func(int) ([]string, error), o options) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := printSignals(out, poll, o); err != nil {
				return fmt.Errorf("final signal poll: %w", err)
			}
			return nil
		case <-ticker.C:
			if err := printSignals(out, poll, o); err != nil {
				return err
			}
		}
	}
}

func printSignals(out io.Writer, poll func(int) ([]string, error), o options) error {
	signals, err := poll(o.port)
	if err != nil {
		return err
	}
	for _, s := range signals {
		line := s
		if o.text {
			payload, err := internal.DecodePayload(s, false)
			if err != nil {
				return err
			}
			line = string(payload)
		}
		if _, err := fmt.Fprintf(out, "signal %s\n", line); err != nil {
			return err
		}
	}
	return nil
}
