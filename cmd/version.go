package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "zbridge %s\n", core.FormatVersion(core.Version))
			if pid := runningDaemon(core.Config); pid != 0 {
				fmt.Fprintf(os.Stderr, "Daemon: running (PID %d)\n", pid)
			} else {
				fmt.Fprintln(os.Stderr, "Daemon: not running")
			}
		},
	}

	return versionCmd
}
