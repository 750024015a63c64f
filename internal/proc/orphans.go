package proc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// FindByCmdline returns the PIDs of processes whose command line contains
// every fragment. The calling process is never included.
func FindByCmdline(fragments ...string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var pids []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			// Exited while listing, or a kernel thread
			continue
		}
		if containsAll(cmdline, fragments) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

func containsAll(s string, fragments []string) bool {
	for _, f := range fragments {
		if !strings.Contains(s, f) {
			return false
		}
	}
	return true
}

// Exists reports whether a process with the given PID is running
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// MatchesCmdline reports whether pid is alive and its command line contains
// every fragment. It guards against acting on a reused PID from a stale file.
func MatchesCmdline(pid int, fragments ...string) bool {
	if !Exists(pid) {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil || cmdline == "" {
		slog.Debug("Failed to read process command line", "pid", pid, "error", err)
		return false
	}
	if !containsAll(cmdline, fragments) {
		slog.Debug("Process command line mismatch", "pid", pid,
			"expected", strings.Join(fragments, " "), "actual", cmdline)
		return false
	}
	return true
}

// TerminatePID stops a process the daemon does not own (an orphan from a
// previous run). It polls with signal 0 since Wait only works on children.
func TerminatePID(pid int, timeout time.Duration, label string) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		slog.Warn(fmt.Sprintf("Failed to send SIGTERM to %s, forcing kill", label), "pid", pid, "error", err)
		return p.Kill()
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := p.Signal(syscall.Signal(0)); err != nil {
			slog.Debug(fmt.Sprintf("Process %s terminated", label), "pid", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	slog.Warn(fmt.Sprintf("Process %s did not exit within %v, forcing kill", label, timeout), "pid", pid)
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// OrphanFinder locates and stops processes the daemon did not start itself
type OrphanFinder interface {
	Find(fragments ...string) ([]int, error)
	Terminate(pid int, timeout time.Duration, label string) error
}

// System is the OrphanFinder backed by the live process table
type System struct{}

func (System) Find(fragments ...string) ([]int, error) { return FindByCmdline(fragments...) }

func (System) Terminate(pid int, timeout time.Duration, label string) error {
	return TerminatePID(pid, timeout, label)
}

// EventFunc receives process lifecycle events for the journal
type EventFunc func(role, event string, pid int, detail string)
