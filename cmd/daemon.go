package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/daemon"
)

func NewDaemonCommand() *cobra.Command {
	var opts daemon.Options

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the bridge daemon in the foreground",
		Long: `Run the bridge daemon in the foreground.

The daemon listens for the phone's handshake, keeps the PipeWire graph
converged and supervises the media processes until it receives SIGTERM.
SIGUSR1 re-runs the graph reconciler and acknowledges the config tool.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := daemon.New(core.Config, opts)
			return d.Run(context.Background())
		},
	}
	daemonCmd.Flags().BoolVarP(&opts.DebugNotify, "debug-notify", "d", false,
		"notify once when no handshake arrives shortly after startup")

	return daemonCmd
}
