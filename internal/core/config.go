package core

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	BaseDirName      = ".config/zbridge"
	PidFileName      = "daemon.pid"
	SettingsFileName = "daemon.hcl"
	StateFileName    = "state.conf"
	DatabaseFileName = "zbridge.db"
)

// Config is the global daemon configuration instance
var Config *Configuration

// Configuration holds the daemon settings. Every field has a usable default,
// so the daemon runs without a settings file.
type Configuration struct {
	ConfigPath string // Directory containing config files
	Verbose    int    // Verbosity level

	Network NetworkConfig
	Timing  TimingConfig
	Paths   PathConfig
	Tools   ToolConfig
	Graph   GraphConfig
}

// NetworkConfig holds the handshake and media ports
type NetworkConfig struct {
	ListenPort int // Handshake/heartbeat datagrams arrive here
	ReplyPort  int // SYNC probes and ACKs are sent to the phone on this port
	StreamPort int // Desktop audio RTP stream port on the phone
	BridgePort int // Device bridge port appended when the phone address has none
}

// TimingConfig holds every interval the daemon loop depends on
type TimingConfig struct {
	TickInterval     time.Duration
	IdleInterval     time.Duration // Sleep while no valid target is configured
	HeartbeatTimeout time.Duration
	ProbeInterval    time.Duration
	CrashCooldown    time.Duration
	SettleDelay      time.Duration // Camera release delay between hot-swap stop and relaunch
	TerminateTimeout time.Duration // Graceful stop budget before SIGKILL
	OrphanSettle     time.Duration // Pause after killing an orphaned loopback helper
	StartupNotify    time.Duration
}

// PathConfig holds filesystem locations shared with external collaborators
type PathConfig struct {
	ReadyFlag        string
	ReloadPidFile    string
	StateFile        string
	VideoSinkDevice  string
	PlaceholderIcons []string
}

// ToolConfig names the external commands the daemon drives
type ToolConfig struct {
	GraphQuery    string // pw-dump
	GraphCreate   string // pw-cli
	GraphLink     string // pw-link
	Loopback      string // pw-loopback
	MediaPipeline string // gst-launch-1.0
	Mirror        string // scrcpy
	DeviceBridge  string // adb
	Notifier      string // notify-send, used when D-Bus is unavailable
}

// GraphConfig describes the virtual audio topology
type GraphConfig struct {
	InboundVoid  string // Phone mic lands here
	OutboundVoid string // Desktop audio heading to the phone
	VirtualMic   string
	MirrorSource string // Node name the mirroring process plays through
	OutboundSink string // User-facing loopback sink feeding OutboundVoid
	InboundSink  string // User-facing loopback sink feeding InboundVoid
	Channels     []string
	Links        []PortPair
	Unlinks      []PortPair // Anti-feedback rules
}

// PortPair is a directed connection between two "node:port" endpoints
type PortPair struct {
	From string
	To   string
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
