package call

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tixel/tryorama/cmd/trycp-relay/internal"
)

type options struct {
	port      int
	conductor string
	data      string
	text      bool
	debug     bool
}

func NewCallCommand() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:     "call",
		Short:   "Send one request to a conductor interface and print the response",
		Example: "trycp-relay call --port 4444 --data gqR0eXBl\ntrycp-relay call --conductor alice --text --data ping",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return callCmd(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "Conductor interface port on TRYCP_HOST")
	cmd.Flags().StringVarP(&o.conductor, "conductor", "c", "", "Registered conductor name to look up")
	cmd.Flags().StringVar(&o.data, "data", "", "Request payload, base64 encoded")
	cmd.Flags().BoolVar(&o.text, "text", false, "Treat --data and the response as plain text")
	cmd.Flags().BoolVarP(&o.debug, "debug", "d", false, "Enable debug logging")
	cmd.MarkFlagsOneRequired("port", "conductor")
	cmd.MarkFlagsMutuallyExclusive("port", "conductor")

	return cmd
}

func callCmd(ctx context.Context, out io.Writer, o options) error {
	payload, err := internal.DecodePayload(o.data, o.text)
	if err != nil {
		return err
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

	var reply []byte
	if o.conductor != "" {
		reply, err = cli.Call(ctx, o.conductor, payload)
	} else {
		reply, err = cli.CallPort(ctx, o.port, payload)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, internal.EncodePayload(reply, o.text))
	return err
}
