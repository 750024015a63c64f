package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// Camera facing values accepted in the state file
const (
	FacingFront = "front"
	FacingBack  = "back"
	FacingNone  = "none"
)

// Snapshot is the user-facing configuration as written by the external config
// tool. A Snapshot is immutable once read; the daemon reads a fresh one every tick.
type Snapshot struct {
	PhoneAddress              string // Host, optionally with :port
	MonitorEnabled            bool
	DesktopLoopbackEnabled    bool
	CameraFacing              string
	CameraOrientationOverride string
	DefaultOrientationFront   string
	DefaultOrientationBack    string
	AudioBitrate              int
	PacketLossPercent         int
}

// DefaultSnapshot returns the snapshot used when the state file is absent
func DefaultSnapshot() Snapshot {
	return Snapshot{
		CameraFacing:            FacingBack,
		DefaultOrientationFront: "flip90",
		DefaultOrientationBack:  "flip270",
		AudioBitrate:            96000,
		PacketLossPercent:       10,
	}
}

// ReadSnapshot reads the flat KEY="value" state file. A missing file yields the
// default snapshot (no target configured) and no error.
func ReadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultSnapshot(), nil
		}
		return Snapshot{}, fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()

	return ParseSnapshot(f)
}

// ParseSnapshot parses state file content. Unknown keys are ignored so newer
// config tools can add settings without breaking older daemons.
func ParseSnapshot(r io.Reader) (Snapshot, error) {
	snap := DefaultSnapshot()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		switch key {
		case "PHONE_IP":
			snap.PhoneAddress = value
		case "MONITOR":
			snap.MonitorEnabled = value == "on"
		case "DESKTOP":
			snap.DesktopLoopbackEnabled = value == "on"
		case "CAM_FACING":
			if value != "" {
				snap.CameraFacing = value
			}
		case "CAM_ORIENT":
			snap.CameraOrientationOverride = value
		case "CAM_ORIENT_FRONT":
			if value != "" {
				snap.DefaultOrientationFront = value
			}
		case "CAM_ORIENT_BACK":
			if value != "" {
				snap.DefaultOrientationBack = value
			}
		case "AUDIO_BITRATE":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				snap.AudioBitrate = n
			}
		case "PACKET_LOSS":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 && n <= 100 {
				snap.PacketLossPercent = n
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to read state file: %w", err)
	}

	return snap, nil
}

// TargetHost returns the phone address without any port suffix
func (s Snapshot) TargetHost() string {
	return HostOnly(s.PhoneAddress)
}

// HasValidTarget reports whether the phone address is set and not loopback
func (s Snapshot) HasValidTarget() bool {
	return IsValidTarget(s.TargetHost())
}

// Facing returns the camera facing, treating unknown values as back
func (s Snapshot) Facing() string {
	switch s.CameraFacing {
	case FacingFront, FacingBack, FacingNone:
		return s.CameraFacing
	default:
		return FacingBack
	}
}

// CameraEnabled reports whether the phone camera feed is wanted
func (s Snapshot) CameraEnabled() bool {
	return s.Facing() != FacingNone
}

// Orientation returns the capture orientation: the override when set,
// otherwise the default for the selected facing
func (s Snapshot) Orientation() string {
	if s.CameraOrientationOverride != "" {
		return s.CameraOrientationOverride
	}
	if s.Facing() == FacingFront {
		return s.DefaultOrientationFront
	}
	return s.DefaultOrientationBack
}

// HostOnly strips a :port suffix from an address. Bare IPv6 addresses are
// returned unchanged.
func HostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// IsValidTarget reports whether host can be probed: non-empty and not loopback
func IsValidTarget(host string) bool {
	if host == "" || host == "localhost" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return false
	}
	return true
}

// WithPort returns addr with defaultPort appended when it carries no port
func WithPort(addr string, defaultPort int) string {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(defaultPort))
}
