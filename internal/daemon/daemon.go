package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/db"
	"go.zerobridge.dev/zbridge/internal/graph"
	"go.zerobridge.dev/zbridge/internal/notify"
)

const (
	startupNotifyTitle = "ZeroBridge Connect"
	startupNotifyBody  = "No response from phone.\nRun 'sv restart zreceiver' on device."
)

type command int

const (
	cmdWake command = iota
	cmdReload
	cmdShutdown
)

// Options are the command line switches of the daemon
type Options struct {
	DebugNotify bool // Notify once if no handshake arrives shortly after startup
}

// Daemon runs the reconciliation loop: graph convergence, configuration
// snapshot, connection state and media supervision, once per tick.
type Daemon struct {
	mu         sync.Mutex // Guards database for the listener goroutine
	cfg        *core.Configuration
	pendingCfg atomic.Pointer[core.Configuration]
	opts       Options

	session    *Session
	listener   *Listener
	prober     *Prober
	graph      *graph.Reconciler
	supervisor *Supervisor
	notifier   notify.Notifier
	database   *db.DB

	snapshot     core.Snapshot
	startedAt    time.Time
	notified     bool
	commands     chan command
	shutdownOnce sync.Once
	now          func() time.Time
}

// New creates a daemon from settings
func New(cfg *core.Configuration, opts Options) *Daemon {
	d := &Daemon{
		cfg:        cfg,
		opts:       opts,
		session:    NewSession(time.Now),
		graph:      graph.NewReconciler(cfg),
		supervisor: NewSupervisor(cfg),
		notifier:   notify.Desktop{Fallback: cfg.Tools.Notifier},
		snapshot:   core.DefaultSnapshot(),
		commands:   make(chan command, 8),
		now:        time.Now,
	}
	d.supervisor.onEvent = d.logProcessEvent
	d.graph.Loopbacks.OnEvent = d.logProcessEvent
	return d
}

// Run starts the daemon and blocks until shutdown. Errors are returned only
// for failures before the loop starts.
func (d *Daemon) Run(ctx context.Context) error {
	SetupLogging(d.cfg.Verbose)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(d.cfg.ConfigPath, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	conn, err := Listen(d.cfg.Network.ListenPort)
	if err != nil {
		return err
	}
	d.listener = NewListener(conn, d.session, d.cfg.Network.ReplyPort, d.onConnected)
	d.prober = NewProber(d.cfg.Network.ReplyPort, d.cfg.Timing.ProbeInterval, d.listener.Send)

	dbPath := filepath.Join(d.cfg.ConfigPath, core.DatabaseFileName)
	database, err := db.Open(dbPath)
	if err != nil {
		slog.Error("Failed to open event journal", "error", err, "path", dbPath)
	} else {
		d.mu.Lock()
		d.database = database
		d.mu.Unlock()
		slog.Debug("Event journal opened", "path", dbPath)
	}
	d.logDaemonEvent("start", fmt.Sprintf("daemon started - version: %s, PID: %d, session: %s",
		core.FormatVersion(core.Version), os.Getpid(), d.session.ID()))

	pidFilePath := filepath.Join(d.cfg.ConfigPath, core.PidFileName)
	if err := os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("Failed to write PID file", "path", pidFilePath, "error", err)
	}
	defer os.Remove(pidFilePath)

	go d.listener.Run(ctx)
	d.handleSignals(ctx)
	d.watchFiles(ctx, filepath.Join(d.cfg.ConfigPath, core.SettingsFileName), d.cfg.Paths.StateFile)

	d.startedAt = d.now()
	slog.Info("Daemon started", "pid", os.Getpid(), "session", d.session.ID())

	for {
		interval := d.tick(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.shutdown()
			return nil
		case cmd := <-d.commands:
			timer.Stop()
			switch cmd {
			case cmdShutdown:
				d.shutdown()
				return nil
			case cmdReload:
				d.reload(ctx)
			}
		case <-timer.C:
		}
	}
}

// handleSignals turns process signals into loop commands
func (d *Daemon) handleSignals(ctx context.Context) {
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(signals)
		d.forwardSignals(ctx, signals)
	}()
}

// forwardSignals sends one command per signal until ctx is done. Only the
// first shutdown signal counts; later ones are swallowed so teardown is not
// killed by the default handler.
func (d *Daemon) forwardSignals(ctx context.Context, signals <-chan os.Signal) {
	stopping := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			var cmd command
			switch {
			case stopping:
				slog.Info("Already shutting down, ignoring signal", "signal", sig.String())
				continue
			case sig == syscall.SIGUSR1:
				slog.Info("Reload signal received")
				cmd = cmdReload
			default:
				slog.Info("Shutdown signal received", "signal", sig.String())
				stopping = true
				cmd = cmdShutdown
			}
			select {
			case d.commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// wake makes the loop tick now instead of at the end of the interval
func (d *Daemon) wake() {
	select {
	case d.commands <- cmdWake:
	default:
	}
}

// tick runs one reconciliation pass and returns the delay until the next
func (d *Daemon) tick(ctx context.Context) time.Duration {
	d.applyPendingSettings()

	d.graph.Reconcile(ctx)

	snap, err := core.ReadSnapshot(d.cfg.Paths.StateFile)
	if err != nil {
		slog.Warn("Failed to read state file, keeping previous configuration", "error", err)
	} else {
		d.snapshot = snap
	}

	if changed, previous := d.session.SetTarget(d.snapshot.PhoneAddress); changed {
		d.resetForTarget(previous, d.snapshot.PhoneAddress)
	}

	if !d.snapshot.HasValidTarget() {
		return d.cfg.Timing.IdleInterval
	}
	host := d.snapshot.TargetHost()

	if timedOut, silence := d.session.CheckTimeout(d.cfg.Timing.HeartbeatTimeout); timedOut {
		slog.Info("Heartbeat timed out, disconnected", "phone", host, "silence", silence.Round(time.Millisecond))
		d.clearReady()
		d.supervisor.StopAll("heartbeat timeout")
		d.logConnectionEvent(host, "heartbeat_timeout", fmt.Sprintf("no heartbeat for %s", silence.Round(time.Second)))
	}

	if d.session.State() == Disconnected {
		d.maybeNotifyStartup()
		if addrs, err := d.session.ResolveTarget(); err != nil {
			slog.Debug("Cannot resolve phone address", "phone", host, "error", err)
		} else {
			d.prober.Probe(addrs[0])
		}
	} else {
		d.notified = true
		d.markReady()
		d.supervisor.Supervise(ctx, d.snapshot)
	}
	return d.cfg.Timing.TickInterval
}

// resetForTarget tears everything down after the phone address changed
func (d *Daemon) resetForTarget(previous, current string) {
	if previous == "" {
		// Nothing was connected yet; the loopback sinks do not depend on the target
		slog.Info("Phone address set", "phone", current)
		d.clearReady()
		d.logConnectionEvent(current, "target_changed", "previous: none")
		return
	}
	slog.Info("Phone address changed, resetting connection", "from", previous, "to", current)
	d.supervisor.StopAll("target changed")
	d.graph.StopLoopbacks()
	d.clearReady()
	if d.prober != nil {
		d.prober.Reset()
	}
	d.logConnectionEvent(current, "target_changed", "previous: "+previous)
}

// onConnected runs on the listener goroutine after the session connected.
// The loop creates the ready marker when it next sees the connected state,
// so marker writes never race a reset.
func (d *Daemon) onConnected(host string) {
	slog.Info(fmt.Sprintf("Handshake received from %s, connected", host))
	d.logConnectionEvent(host, "connected", "session "+d.session.ID())
	d.wake()
}

// markReady creates the ready marker if it is missing. Loop goroutine only.
func (d *Daemon) markReady() {
	ready := Marker(d.cfg.Paths.ReadyFlag)
	if ready.Exists() {
		return
	}
	if err := ready.Set(); err != nil {
		slog.Warn("Failed to create ready marker", "error", err)
		return
	}
	slog.Debug("Ready marker created", "path", d.cfg.Paths.ReadyFlag)
}

// clearReady removes the ready marker. Loop goroutine only.
func (d *Daemon) clearReady() {
	if err := Marker(d.cfg.Paths.ReadyFlag).Clear(); err != nil {
		slog.Warn("Failed to remove ready marker", "error", err)
	}
}

func (d *Daemon) maybeNotifyStartup() {
	if !d.opts.DebugNotify || d.notified {
		return
	}
	if d.now().Sub(d.startedAt) <= d.cfg.Timing.StartupNotify {
		return
	}
	d.notified = true
	slog.Info("No handshake since startup, sending notification")
	if err := d.notifier.Notify(startupNotifyTitle, startupNotifyBody); err != nil {
		slog.Warn("Failed to send notification", "error", err)
	}
}

// reload re-runs the reconciler and acknowledges the waiting config tool
func (d *Daemon) reload(ctx context.Context) {
	d.graph.Reconcile(ctx)
	pid, err := AckReload(d.cfg.Paths.ReloadPidFile)
	if err != nil {
		slog.Warn("Failed to acknowledge reload", "error", err)
	} else if pid != 0 {
		slog.Info("Reload acknowledged", "pid", pid)
	}
	d.logDaemonEvent("reload", fmt.Sprintf("acknowledged pid %d", pid))
}

// applyPendingSettings swaps in settings loaded by the file watcher
func (d *Daemon) applyPendingSettings() {
	cfg := d.pendingCfg.Swap(nil)
	if cfg == nil {
		return
	}
	cfg.ConfigPath = d.cfg.ConfigPath
	cfg.Verbose = d.cfg.Verbose

	if cfg.Network != d.cfg.Network {
		slog.Warn("Network settings changed, restart the daemon to apply them")
		cfg.Network = d.cfg.Network
	}
	if cfg.Paths.ReadyFlag != d.cfg.Paths.ReadyFlag {
		// Recreated at the new path by the next connected tick
		d.clearReady()
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.graph.Tools = cfg.Tools
	d.graph.Topology = cfg.Graph
	d.supervisor.SetConfig(cfg)
	if d.prober != nil {
		d.prober.interval = cfg.Timing.ProbeInterval
	}
	slog.Info("Settings reloaded")
}

// shutdown stops everything the daemon started. It runs at most once.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("Executing shutdown sequence...")

		d.supervisor.StopAll("daemon shutdown")
		d.graph.Shutdown()
		d.clearReady()
		if d.listener != nil {
			d.listener.Close()
		}

		d.logDaemonEvent("stop", fmt.Sprintf("daemon stopped - PID: %d", os.Getpid()))
		d.mu.Lock()
		database := d.database
		d.database = nil
		d.mu.Unlock()
		if database != nil {
			if err := database.Close(); err != nil {
				slog.Error("Failed to close event journal", "error", err)
			}
		}
		slog.Info("Shutdown complete")
	})
}

func (d *Daemon) journal() *db.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.database
}

func (d *Daemon) logConnectionEvent(phone, event, details string) {
	database := d.journal()
	if database == nil {
		return
	}
	if err := database.LogConnectionEvent(phone, event, details); err != nil {
		slog.Debug("Failed to journal connection event", "event", event, "error", err)
	}
}

func (d *Daemon) logProcessEvent(role, event string, pid int, details string) {
	database := d.journal()
	if database == nil {
		return
	}
	if err := database.LogProcessEvent(role, event, pid, details); err != nil {
		slog.Debug("Failed to journal process event", "role", role, "event", event, "error", err)
	}
}

func (d *Daemon) logDaemonEvent(event, details string) {
	database := d.journal()
	if database == nil {
		return
	}
	if err := database.LogDaemonEvent(event, details); err != nil {
		slog.Debug("Failed to journal daemon event", "event", event, "error", err)
	}
}
