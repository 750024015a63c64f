package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Marker is a flag file other tools poll for
type Marker string

// Set creates the marker
func (m Marker) Set() error {
	if err := os.WriteFile(string(m), []byte("1"), 0o644); err != nil {
		return fmt.Errorf("failed to create marker %s: %w", string(m), err)
	}
	return nil
}

// Clear removes the marker. A missing marker is not an error.
func (m Marker) Clear() error {
	if err := os.Remove(string(m)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove marker %s: %w", string(m), err)
	}
	return nil
}

// Exists reports whether the marker is present
func (m Marker) Exists() bool {
	_, err := os.Stat(string(m))
	return err == nil
}

// AckReload signals the process waiting on a reload. The waiter writes its
// PID to pidFile before asking for the reload; the file is removed after
// the acknowledgment so a stale PID is never signalled twice. It returns the
// PID signalled, or 0 when nobody was waiting.
func AckReload(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read reload pid file: %w", err)
	}
	defer os.Remove(pidFile)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %s: %q", pidFile, strings.TrimSpace(string(data)))
	}
	if err := unix.Kill(pid, unix.SIGUSR2); err != nil {
		return pid, fmt.Errorf("failed to signal reload waiter %d: %w", pid, err)
	}
	return pid, nil
}
