package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tixel/tryorama/cmd/trycp-relay/internal/call"
	"github.com/tixel/tryorama/cmd/trycp-relay/internal/listen"
	"github.com/tixel/tryorama/cmd/trycp-relay/internal/serve"
)

func NewRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "trycp-relay",
		Short:        "Talk to a conductor admin or app interface over WebSocket",
		Example:      "TRYCP_HOST=127.0.0.1 trycp-relay call --port 4444 --data <base64>",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		call.NewCallCommand(),
		listen.NewListenCommand(),
		serve.NewServeCommand(),
	)

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRelayCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
