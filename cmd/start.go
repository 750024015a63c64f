package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
)

func NewStartCommand() *cobra.Command {
	var debugNotify bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge daemon",
		Long: `Start the bridge daemon in the background.

The daemon keeps running until explicitly stopped with 'zbridge stop'.
Output goes to daemon.log in the config path.

If the daemon is already running, this command will report its PID.`,
		Aliases: []string{"startup", "boot"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid := runningDaemon(core.Config); pid != 0 {
				slog.Info(fmt.Sprintf("Daemon is already running (PID %d)", pid))
				return nil
			}

			var extra []string
			if debugNotify {
				extra = append(extra, "--debug-notify")
			}

			slog.Info("Starting zbridge daemon...")
			daemonCmd, err := startDaemon(core.Config, extra...)
			if err != nil {
				return err
			}

			pid, err := waitForDaemon(core.Config, daemonCmd, 5*time.Second)
			if err != nil {
				return err
			}

			slog.Info("Daemon started successfully", "pid", pid)
			return nil
		},
	}
	startCmd.Flags().BoolVarP(&debugNotify, "debug-notify", "d", false,
		"notify once when no handshake arrives shortly after startup")

	return startCmd
}
