package proc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const (
	outputTailLines = 40

	// How long output from a grandchild that outlived the process is still read
	outputGrace = time.Second
)

// Process is a running (or exited) child started from a Spec
type Process struct {
	spec    Spec
	cmd     *exec.Cmd
	output  *Tail
	started time.Time
	now     func() time.Time

	done     chan struct{}
	mu       sync.Mutex
	exitedAt time.Time
	exitErr  error
	stopping atomic.Bool
}

// Start launches spec and returns once the process exists
func Start(spec Spec) (*Process, error) {
	return startAt(spec, time.Now)
}

func startAt(spec Spec, now func() time.Time) (*Process, error) {
	if spec.IsZero() {
		return nil, errors.New("empty process spec")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)

	p := &Process{
		spec:   spec,
		cmd:    cmd,
		output: NewTail(outputTailLines),
		now:    now,
		done:   make(chan struct{}),
	}

	var ptmx *os.File
	if spec.PTY {
		// pty.Start puts the child in its own session with the terminal as ctty
		var err error
		ptmx, err = pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
		}
	} else {
		cmd.Stdout = p.output
		cmd.Stderr = p.output
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		// A grandchild holding the output pipe must not keep Wait blocked
		cmd.WaitDelay = outputGrace
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
		}
	}
	p.started = now()

	go p.wait(ptmx)
	return p, nil
}

func (p *Process) wait(ptmx *os.File) {
	copied := make(chan struct{})
	if ptmx != nil {
		go func() {
			defer close(copied)
			// Reading the master returns EIO once every slave fd is closed
			_, _ = io.Copy(p.output, ptmx)
		}()
	}

	err := p.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		// The process itself exited cleanly
		err = nil
	}

	if ptmx != nil {
		// A grandchild may still hold the terminal open
		select {
		case <-copied:
		case <-time.After(outputGrace):
		}
		_ = ptmx.Close()
		<-copied
	}

	p.mu.Lock()
	p.exitedAt = p.now()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the OS process id
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was launched
func (p *Process) StartedAt() time.Time { return p.started }

// Done is closed once the process has been reaped
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the process has not exited yet
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Exit returns the exit time and the Wait error. Both are zero while alive.
func (p *Process) Exit() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitedAt, p.exitErr
}

// Stopped reports whether the exit was requested through Terminate
func (p *Process) Stopped() bool { return p.stopping.Load() }

// Output returns the last lines the process wrote, newline separated
func (p *Process) Output() string { return p.output.String() }

// Terminate asks the process to exit with SIGTERM and kills it after timeout.
// It returns once the process has been reaped.
func (p *Process) Terminate(timeout time.Duration) error {
	p.stopping.Store(true)
	if !p.Alive() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-p.done
			return nil
		}
		slog.Warn(fmt.Sprintf("Failed to send SIGTERM to %s, forcing kill", p.spec.Name), "error", err)
	} else {
		select {
		case <-p.done:
			slog.Debug(fmt.Sprintf("Process %s terminated gracefully", p.spec.Name))
			return nil
		case <-time.After(timeout):
			slog.Warn(fmt.Sprintf("Process %s did not exit within %v, forcing kill", p.spec.Name, timeout))
		}
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("process %s survived SIGKILL", p.spec.Name)
	}
}
