package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/daemon"
	"go.zerobridge.dev/zbridge/internal/db"
)

// Status is what 'zbridge status' reports
type Status struct {
	Running   bool                 `json:"running"`
	PID       int                  `json:"pid,omitempty"`
	Phone     string               `json:"phone"`
	Monitor   bool                 `json:"monitor"`
	Desktop   bool                 `json:"desktop_audio"`
	Camera    string               `json:"camera"`
	Ready     bool                 `json:"ready"`
	Events    []db.ConnectionEvent `json:"connection_events,omitempty"`
	Processes []db.ProcessEvent    `json:"processes,omitempty"`
	History   []db.ProcessEvent    `json:"process_events,omitempty"`
}

func NewStatusCommand() *cobra.Command {
	var limit int
	var history bool

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Shows the daemon, phone connection and media processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status := gatherStatus(core.Config, limit, history)

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				printStatus(cmd.OutOrStdout(), status)
			case "json":
				jsonBytes, err := json.MarshalIndent(status, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(jsonBytes))
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return nil
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")
	statusCmd.Flags().IntVarP(&limit, "events", "n", 5, "number of recent events to show")
	statusCmd.Flags().BoolVarP(&history, "history", "H", false, "also show recent process events of every role")

	return statusCmd
}

func gatherStatus(cfg *core.Configuration, limit int, history bool) Status {
	var status Status

	status.PID = runningDaemon(cfg)
	status.Running = status.PID != 0
	status.Ready = daemon.Marker(cfg.Paths.ReadyFlag).Exists()

	snap, err := core.ReadSnapshot(cfg.Paths.StateFile)
	if err != nil {
		slog.Warn("Failed to read state file", "error", err)
		snap = core.DefaultSnapshot()
	}
	status.Phone = snap.PhoneAddress
	status.Monitor = snap.MonitorEnabled
	status.Desktop = snap.DesktopLoopbackEnabled
	status.Camera = snap.Facing()

	// Opening creates the file, so only read a journal the daemon wrote
	dbPath := filepath.Join(cfg.ConfigPath, core.DatabaseFileName)
	if _, err := os.Stat(dbPath); err != nil {
		return status
	}
	journal, err := db.Open(dbPath)
	if err != nil {
		slog.Debug("Failed to open event journal", "error", err)
		return status
	}
	defer journal.Close()

	if status.Events, err = journal.GetRecentConnectionEvents(limit); err != nil {
		slog.Debug("Failed to read connection events", "error", err)
	}
	if status.Processes, err = journal.GetLastProcessEventPerRole(); err != nil {
		slog.Debug("Failed to read process events", "error", err)
	}
	if history {
		if status.History, err = journal.GetRecentProcessEvents(limit); err != nil {
			slog.Debug("Failed to read process history", "error", err)
		}
	}
	return status
}

func printStatus(w io.Writer, status Status) {
	if status.Running {
		fmt.Fprintf(w, "Daemon:  running (PID: %d)\n", status.PID)
	} else {
		fmt.Fprintln(w, "Daemon:  not running")
	}

	phone := status.Phone
	if phone == "" {
		phone = "not configured"
	}
	fmt.Fprintf(w, "Phone:   %s\n", phone)
	fmt.Fprintf(w, "Ready:   %s\n", onOff(status.Ready, "yes", "no"))
	fmt.Fprintf(w, "Monitor: %s, desktop audio: %s, camera: %s\n",
		onOff(status.Monitor, "on", "off"), onOff(status.Desktop, "on", "off"), status.Camera)

	if len(status.Processes) > 0 {
		fmt.Fprintln(w, "Processes:")
		for _, p := range status.Processes {
			fmt.Fprintf(w, "  - %-18s %-12s (PID: %d, %s ago)\n",
				p.Role, p.EventType, p.PID, time.Since(p.Timestamp).Round(time.Second))
		}
	}

	if len(status.History) > 0 {
		fmt.Fprintln(w, "Recent process events:")
		for _, p := range status.History {
			fmt.Fprintf(w, "  - %s %-18s %-12s (PID: %d) %s\n",
				p.Timestamp.Local().Format(time.DateTime), p.Role, p.EventType, p.PID, p.Details)
		}
	}

	if len(status.Events) > 0 {
		fmt.Fprintln(w, "Recent connection events:")
		for _, e := range status.Events {
			fmt.Fprintf(w, "  - %s %-18s %s %s\n",
				e.Timestamp.Local().Format(time.DateTime), e.EventType, e.PhoneAddress, e.Details)
		}
	}
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
