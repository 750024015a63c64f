package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
)

func NewReloadCommand() *cobra.Command {
	var quiet bool
	var timeout time.Duration

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Re-run the audio graph setup and wait for the daemon to confirm",
		Long: `Ask the running daemon to re-run the PipeWire graph reconciler.

This is what the config tool does after changing settings: it leaves its own
PID in the reload PID file, sends SIGUSR1 to the daemon and waits for the
daemon to answer with SIGUSR2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := runningDaemon(core.Config)
			if pid == 0 {
				return fmt.Errorf("daemon is not running, use 'zbridge start' instead")
			}

			acked, err := requestReload(core.Config.Paths.ReloadPidFile, pid, timeout)
			if err != nil {
				return err
			}
			if quiet {
				return nil
			}
			if acked {
				slog.Info("Daemon reloaded")
			} else {
				slog.Warn("Daemon did not confirm the reload in time", "timeout", timeout)
			}
			return nil
		},
	}
	reloadCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress output")
	reloadCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the acknowledgment")

	return reloadCmd
}

// requestReload signals the daemon and waits for its SIGUSR2 acknowledgment
func requestReload(ackFile string, daemonPID int, timeout time.Duration) (bool, error) {
	acks := make(chan os.Signal, 1)
	signal.Notify(acks, syscall.SIGUSR2)
	defer signal.Stop(acks)

	if err := os.WriteFile(ackFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write reload PID file: %w", err)
	}
	if err := syscall.Kill(daemonPID, syscall.SIGUSR1); err != nil {
		os.Remove(ackFile)
		return false, fmt.Errorf("failed to signal daemon: %w", err)
	}

	select {
	case <-acks:
		return true, nil
	case <-time.After(timeout):
		os.Remove(ackFile)
		return false, nil
	}
}
