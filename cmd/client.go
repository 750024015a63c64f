package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/proc"
)

const (
	pollInterval  = 100 * time.Millisecond
	daemonLogName = "daemon.log"
)

// readPID reads a PID file. A missing file yields 0 and no error.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	return pid, nil
}

// runningDaemon returns the PID of the live daemon, or 0 when none is running.
// A stale PID file pointing at an unrelated process counts as not running.
func runningDaemon(cfg *core.Configuration) int {
	pid, err := readPID(filepath.Join(cfg.ConfigPath, core.PidFileName))
	if err != nil || pid == 0 {
		return 0
	}
	if !proc.MatchesCmdline(pid, "daemon") {
		return 0
	}
	return pid
}

// waitForExit polls until pid is gone or the timeout passes
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !proc.Exists(pid) {
			return true
		}
		time.Sleep(pollInterval)
	}
	return !proc.Exists(pid)
}

// startDaemon launches "zbridge daemon" detached from the terminal
func startDaemon(cfg *core.Configuration, extraArgs ...string) (*exec.Cmd, error) {
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	args := append([]string{"daemon", "--config-path", cfg.ConfigPath}, extraArgs...)
	if cfg.Verbose > 0 {
		args = append(args, "-"+strings.Repeat("v", cfg.Verbose))
	}
	daemonCmd := exec.Command(executable, args...)
	daemonCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := os.MkdirAll(cfg.ConfigPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.ConfigPath, daemonLogName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()
	daemonCmd.Stdout = logFile
	daemonCmd.Stderr = logFile

	if err := daemonCmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start daemon: %w", err)
	}
	return daemonCmd, nil
}

// waitForDaemon waits until the daemon wrote its PID file. It gives up early
// if the spawned process exits.
func waitForDaemon(cfg *core.Configuration, daemonCmd *exec.Cmd, timeout time.Duration) (int, error) {
	exited := make(chan error, 1)
	go func() { exited <- daemonCmd.Wait() }()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case err := <-exited:
			return 0, fmt.Errorf("daemon exited during startup: %v", err)
		default:
		}
		if pid, err := readPID(filepath.Join(cfg.ConfigPath, core.PidFileName)); err == nil && pid == daemonCmd.Process.Pid {
			return pid, nil
		}
		time.Sleep(pollInterval)
	}
	return 0, fmt.Errorf("daemon did not start within %s", timeout)
}
