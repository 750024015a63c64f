package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// BridgeConnector connects the device bridge the mirroring process rides on
type BridgeConnector interface {
	Connect(ctx context.Context, serial string) error
}

// ADBBridge connects with `adb connect`, dropping a half-open connection and
// retrying when the first attempt does not report success
type ADBBridge struct {
	Tool     string
	Attempts int
	Timeout  time.Duration
}

func (b ADBBridge) Connect(ctx context.Context, serial string) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 2
	}

	var lastOut string
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			slog.Debug("Device bridge not connected, retrying", "serial", serial, "attempt", attempt)
			b.run(ctx, "disconnect", serial)
		}
		out, err := b.run(ctx, "connect", serial)
		if err == nil && strings.Contains(out, "connected to") {
			return nil
		}
		lastOut = strings.TrimSpace(out)
		if lastOut == "" && err != nil {
			lastOut = err.Error()
		}
	}
	return fmt.Errorf("device bridge connect to %s failed: %s", serial, lastOut)
}

func (b ADBBridge) run(ctx context.Context, args ...string) (string, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, b.Tool, args...).CombinedOutput()
	return string(out), err
}
