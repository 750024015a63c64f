package graph

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.zerobridge.dev/zbridge/internal/proc"
)

// Sink is a user-facing loopback sink feeding an internal void node
type Sink struct {
	Name   string // node name and --name of the helper
	Target string // void node the playback side is pinned to
}

// LoopbackSupervisor keeps one pw-loopback helper alive per sink
type LoopbackSupervisor struct {
	Tool             string
	Sinks            []Sink
	Channels         []string
	TerminateTimeout time.Duration
	OrphanSettle     time.Duration

	// Replaceable for tests
	Start   func(proc.Spec) (*proc.Process, error)
	Orphans proc.OrphanFinder
	Sleep   func(time.Duration)
	OnEvent proc.EventFunc

	procs map[string]*proc.Process
}

// NewLoopbackSupervisor creates a supervisor using the real process table
func NewLoopbackSupervisor(tool string, sinks []Sink, channels []string) *LoopbackSupervisor {
	return &LoopbackSupervisor{
		Tool:             tool,
		Sinks:            sinks,
		Channels:         channels,
		TerminateTimeout: 5 * time.Second,
		OrphanSettle:     500 * time.Millisecond,
		Start:            proc.Start,
		Orphans:          proc.System{},
		Sleep:            time.Sleep,
		procs:            make(map[string]*proc.Process),
	}
}

// Spec returns the launch spec for a sink
func (l *LoopbackSupervisor) Spec(s Sink) proc.Spec {
	capture := fmt.Sprintf("media.class=Audio/Sink node.description=%s audio.position=[%s]",
		s.Name, strings.Join(l.Channels, " "))
	playback := fmt.Sprintf("target.object=%s node.target=%s node.dont-reconnect=true", s.Target, s.Target)
	return proc.Spec{
		Name: "loopback " + s.Name,
		Path: l.Tool,
		Args: []string{
			"--name", s.Name,
			"--capture-props=" + capture,
			"--playback-props=" + playback,
		},
	}
}

// Ensure makes sure every sink has a live helper
func (l *LoopbackSupervisor) Ensure() {
	for _, s := range l.Sinks {
		l.ensure(s)
	}
}

func (l *LoopbackSupervisor) ensure(s Sink) {
	if p, ok := l.procs[s.Name]; ok {
		if p.Alive() {
			return
		}
		exitedAt, exitErr := p.Exit()
		slog.Warn(fmt.Sprintf("Loopback sink %s exited, respawning", s.Name),
			"pid", p.Pid(), "error", exitErr, "uptime", exitedAt.Sub(p.StartedAt()).Round(time.Millisecond),
			"output", p.Output())
		l.event(s.Name, "crashed", p.Pid(), fmt.Sprint(exitErr))
		delete(l.procs, s.Name)
	}

	if l.killOrphans(s) {
		l.Sleep(l.OrphanSettle)
	}

	spec := l.Spec(s)
	p, err := l.Start(spec)
	if err != nil {
		slog.Warn(fmt.Sprintf("Failed to start loopback sink %s", s.Name), "error", err)
		return
	}
	l.procs[s.Name] = p
	slog.Info(fmt.Sprintf("Loopback sink %s started", s.Name), "pid", p.Pid(), "target", s.Target)
	l.event(s.Name, "started", p.Pid(), spec.CommandLine())
}

// killOrphans terminates helpers for s left by another daemon instance and
// reports whether any were found
func (l *LoopbackSupervisor) killOrphans(s Sink) bool {
	pids, err := l.Orphans.Find(l.matchFragments(s.Name)...)
	if err != nil {
		slog.Warn("Failed to scan for orphaned loopback sinks", "sink", s.Name, "error", err)
		return false
	}
	found := false
	for _, pid := range pids {
		if l.owns(pid) {
			continue
		}
		found = true
		slog.Info(fmt.Sprintf("Terminating orphaned loopback sink %s", s.Name), "pid", pid)
		if err := l.Orphans.Terminate(pid, l.TerminateTimeout, "loopback "+s.Name); err != nil {
			slog.Warn("Failed to terminate orphaned loopback sink", "sink", s.Name, "pid", pid, "error", err)
		}
		l.event(s.Name, "orphan_killed", pid, "")
	}
	return found
}

func (l *LoopbackSupervisor) matchFragments(name string) []string {
	// The trailing space keeps ZBridge_Desktop from matching ZBridge_Desktop2
	return []string{l.Tool, "--name " + name + " "}
}

func (l *LoopbackSupervisor) owns(pid int) bool {
	for _, p := range l.procs {
		if p.Pid() == pid {
			return true
		}
	}
	return false
}

// StopAll terminates every tracked helper. The next Ensure respawns them.
func (l *LoopbackSupervisor) StopAll() {
	for name, p := range l.procs {
		if err := p.Terminate(l.TerminateTimeout); err != nil {
			slog.Warn(fmt.Sprintf("Failed to stop loopback sink %s", name), "error", err)
		}
		slog.Info(fmt.Sprintf("Loopback sink %s stopped", name), "pid", p.Pid())
		l.event(name, "stopped", p.Pid(), "")
		delete(l.procs, name)
	}
}

// Sweep stops tracked helpers and any untracked helper for a known sink
func (l *LoopbackSupervisor) Sweep() {
	l.StopAll()
	for _, s := range l.Sinks {
		pids, err := l.Orphans.Find(l.matchFragments(s.Name)...)
		if err != nil {
			continue
		}
		for _, pid := range pids {
			_ = l.Orphans.Terminate(pid, l.TerminateTimeout, "loopback "+s.Name)
		}
	}
}

// Running returns the names of sinks with a live helper
func (l *LoopbackSupervisor) Running() []string {
	var names []string
	for name, p := range l.procs {
		if p.Alive() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (l *LoopbackSupervisor) event(sink, event string, pid int, detail string) {
	if l.OnEvent != nil {
		l.OnEvent("loopback:"+sink, event, pid, detail)
	}
}
