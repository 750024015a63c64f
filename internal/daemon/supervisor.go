package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/proc"
)

// Starter launches a process from a spec
type Starter func(proc.Spec) (*proc.Process, error)

// managed is one row of the supervision table
type managed struct {
	proc      *proc.Process
	spec      proc.Spec // Desired spec the process was launched from
	exitedAt  time.Time // Last unexpected exit, gates the crash cooldown
	stoppedAt time.Time // Last requested stop, gates the settle delay
}

// Supervisor keeps the media processes matching the desired state. Each
// Supervise call checks every role afresh: alive, matching the desired
// spec, wanted at all.
type Supervisor struct {
	cfg     *core.Configuration
	start   Starter
	bridge  BridgeConnector
	now     func() time.Time
	exists  func(path string) bool
	onEvent proc.EventFunc

	table map[Role]*managed
}

// NewSupervisor creates a supervisor launching real processes
func NewSupervisor(cfg *core.Configuration) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		start: proc.Start,
		bridge: ADBBridge{
			Tool:    cfg.Tools.DeviceBridge,
			Timeout: cfg.Timing.TerminateTimeout,
		},
		now:    time.Now,
		exists: pathExists,
		table:  make(map[Role]*managed),
	}
}

// SetConfig swaps in new settings; running processes are hot-swapped on the
// next Supervise call if their spec changes
func (s *Supervisor) SetConfig(cfg *core.Configuration) {
	s.cfg = cfg
	if b, ok := s.bridge.(ADBBridge); ok {
		b.Tool = cfg.Tools.DeviceBridge
		s.bridge = b
	}
}

// Desired returns the spec each role should run with, zero when the role
// should not run
func (s *Supervisor) Desired(snap core.Snapshot) map[Role]proc.Spec {
	videoSink := s.exists(s.cfg.Paths.VideoSinkDevice)
	desired := make(map[Role]proc.Spec, len(roles))

	if snap.DesktopLoopbackEnabled {
		desired[RoleAudioStream] = AudioStreamSpec(s.cfg, snap)
	}
	if MirrorWanted(snap) {
		desired[RoleMirror] = MirrorSpec(s.cfg, snap, videoSink)
	}
	if !snap.CameraEnabled() && videoSink {
		desired[RolePlaceholder] = PlaceholderSpec(s.cfg, findIcon(s.cfg.Paths.PlaceholderIcons, s.exists))
	}
	return desired
}

// Supervise drives every role toward the snapshot. Only call while connected.
func (s *Supervisor) Supervise(ctx context.Context, snap core.Snapshot) {
	desired := s.Desired(snap)

	// Stop pass: reap exits, stop unwanted and changed processes
	for _, role := range roles {
		s.reap(role)
		m := s.row(role)
		if m.proc == nil {
			continue
		}
		want, ok := desired[role]
		switch {
		case !ok:
			s.stop(role, "no longer wanted")
		case !m.spec.Equal(want):
			slog.Info(fmt.Sprintf("Configuration changed, restarting %s", role),
				"old", m.spec.CommandLine(), "new", want.CommandLine())
			s.event(role, "hot_swap", m.proc.Pid(), want.CommandLine())
			s.stop(role, "hot swap")
		}
	}

	// Start pass
	for _, role := range roles {
		want, ok := desired[role]
		if !ok || s.row(role).proc != nil {
			continue
		}
		s.launch(ctx, role, want, snap)
	}
}

// reap drops a dead process from the table, recording a crash unless the
// stop was requested. The cooldown runs from when the exit is noticed,
// which is never earlier than the exit itself.
func (s *Supervisor) reap(role Role) {
	m := s.row(role)
	if m.proc == nil || m.proc.Alive() {
		return
	}
	exitedAt, err := m.proc.Exit()
	if !m.proc.Stopped() {
		m.exitedAt = s.now()
		uptime := exitedAt.Sub(m.proc.StartedAt()).Round(time.Millisecond)
		slog.Warn(fmt.Sprintf("Process %s exited unexpectedly", role),
			"pid", m.proc.Pid(),
			"exited_at", exitedAt.Format(time.DateTime),
			"uptime", uptime,
			"error", err,
			"output", m.proc.Output())
		s.event(role, "crashed", m.proc.Pid(), fmt.Sprintf("%v after %s", err, uptime))
	}
	m.proc = nil
}

func (s *Supervisor) launch(ctx context.Context, role Role, spec proc.Spec, snap core.Snapshot) {
	m := s.row(role)
	now := s.now()

	if !m.exitedAt.IsZero() && now.Sub(m.exitedAt) < s.cfg.Timing.CrashCooldown {
		slog.Debug(fmt.Sprintf("Process %s in crash cooldown", role), "remaining", s.cfg.Timing.CrashCooldown-now.Sub(m.exitedAt))
		return
	}

	if role == RoleMirror {
		// The camera needs time to be released after the previous instance
		if !m.stoppedAt.IsZero() && now.Sub(m.stoppedAt) < s.cfg.Timing.SettleDelay {
			slog.Debug("Waiting for camera release before relaunch", "remaining", s.cfg.Timing.SettleDelay-now.Sub(m.stoppedAt))
			return
		}
		serial := core.WithPort(snap.PhoneAddress, s.cfg.Network.BridgePort)
		if err := s.bridge.Connect(ctx, serial); err != nil {
			slog.Warn("Device bridge not connected, mirroring deferred", "serial", serial, "error", err)
			s.event(role, "bridge_failed", 0, err.Error())
			return
		}
	}

	p, err := s.start(spec)
	if err != nil {
		slog.Warn(fmt.Sprintf("Failed to start %s", role), "error", err)
		m.exitedAt = now
		s.event(role, "start_failed", 0, err.Error())
		return
	}
	m.proc = p
	m.spec = spec
	slog.Info(fmt.Sprintf("Started %s", role), "pid", p.Pid(), "command", spec.CommandLine())
	s.event(role, "started", p.Pid(), spec.CommandLine())
}

func (s *Supervisor) stop(role Role, reason string) {
	m := s.row(role)
	if m.proc == nil {
		return
	}
	pid := m.proc.Pid()
	uptime := time.Since(m.proc.StartedAt()).Round(time.Second)
	if err := m.proc.Terminate(s.cfg.Timing.TerminateTimeout); err != nil {
		slog.Error(fmt.Sprintf("Failed to stop %s", role), "pid", pid, "error", err)
	}
	m.proc = nil
	m.stoppedAt = s.now()
	slog.Info(fmt.Sprintf("Stopped %s", role), "pid", pid, "reason", reason, "uptime", uptime)
	s.event(role, "stopped", pid, fmt.Sprintf("%s after %s", reason, uptime))
}

// StopAll terminates every supervised process
func (s *Supervisor) StopAll(reason string) {
	for _, role := range roles {
		s.reap(role)
		s.stop(role, reason)
	}
}

// Running returns the live process of a role, or nil
func (s *Supervisor) Running(role Role) *proc.Process {
	m := s.row(role)
	if m.proc == nil || !m.proc.Alive() {
		return nil
	}
	return m.proc
}

func (s *Supervisor) row(role Role) *managed {
	m, ok := s.table[role]
	if !ok {
		m = &managed{}
		s.table[role] = m
	}
	return m
}

func (s *Supervisor) event(role Role, event string, pid int, detail string) {
	if s.onEvent != nil {
		s.onEvent(string(role), event, pid, detail)
	}
}
