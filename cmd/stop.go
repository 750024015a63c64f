package cmd

import (
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
)

func NewStopCommand() *cobra.Command {
	var timeout time.Duration

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the bridge daemon",
		Long: `Stop the bridge daemon.

The daemon stops its media processes and loopback sinks, removes the ready
marker and exits.`,
		Aliases: []string{"shutdown", "quit"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := runningDaemon(core.Config)
			if pid == 0 {
				slog.Warn("Daemon is not running")
				return nil
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal daemon: %w", err)
			}

			if !waitForExit(pid, timeout) {
				slog.Warn("Daemon did not shut down within timeout, but stop signal was sent", "pid", pid)
				return nil
			}
			slog.Debug("Daemon shutdown confirmed")
			slog.Info("Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the daemon to exit")

	return stopCmd
}
