package core

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// HCL parsing structs

type hclConfig struct {
	Verbose int         `hcl:"verbose,optional"`
	Network *hclNetwork `hcl:"network,block"`
	Timing  *hclTiming  `hcl:"timing,block"`
	Paths   *hclPaths   `hcl:"paths,block"`
	Tools   *hclTools   `hcl:"tools,block"`
	Graph   *hclGraph   `hcl:"graph,block"`
}

type hclNetwork struct {
	ListenPort int `hcl:"listen_port,optional"`
	ReplyPort  int `hcl:"reply_port,optional"`
	StreamPort int `hcl:"stream_port,optional"`
	BridgePort int `hcl:"bridge_port,optional"`
}

type hclTiming struct {
	TickInterval     string `hcl:"tick_interval,optional"`
	IdleInterval     string `hcl:"idle_interval,optional"`
	HeartbeatTimeout string `hcl:"heartbeat_timeout,optional"`
	ProbeInterval    string `hcl:"probe_interval,optional"`
	CrashCooldown    string `hcl:"crash_cooldown,optional"`
	SettleDelay      string `hcl:"settle_delay,optional"`
	TerminateTimeout string `hcl:"terminate_timeout,optional"`
	OrphanSettle     string `hcl:"orphan_settle,optional"`
	StartupNotify    string `hcl:"startup_notify,optional"`
}

type hclPaths struct {
	ReadyFlag        string   `hcl:"ready_flag,optional"`
	ReloadPidFile    string   `hcl:"reload_pid_file,optional"`
	StateFile        string   `hcl:"state_file,optional"`
	VideoSinkDevice  string   `hcl:"video_sink_device,optional"`
	PlaceholderIcons []string `hcl:"placeholder_icons,optional"`
}

type hclTools struct {
	GraphQuery    string `hcl:"graph_query,optional"`
	GraphCreate   string `hcl:"graph_create,optional"`
	GraphLink     string `hcl:"graph_link,optional"`
	Loopback      string `hcl:"loopback,optional"`
	MediaPipeline string `hcl:"media_pipeline,optional"`
	Mirror        string `hcl:"mirror,optional"`
	DeviceBridge  string `hcl:"device_bridge,optional"`
	Notifier      string `hcl:"notifier,optional"`
}

type hclGraph struct {
	InboundVoid  string        `hcl:"inbound_void,optional"`
	OutboundVoid string        `hcl:"outbound_void,optional"`
	VirtualMic   string        `hcl:"virtual_mic,optional"`
	MirrorSource string        `hcl:"mirror_source,optional"`
	OutboundSink string        `hcl:"outbound_sink,optional"`
	InboundSink  string        `hcl:"inbound_sink,optional"`
	Channels     []string      `hcl:"channels,optional"`
	Links        []hclPortPair `hcl:"link,block"`
	Unlinks      []hclPortPair `hcl:"unlink,block"`
}

type hclPortPair struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// LoadConfig loads the HCL settings file and returns a Configuration with
// defaults applied for everything the file leaves out
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = hclCfg.Verbose

	if n := hclCfg.Network; n != nil {
		setInt(&cfg.Network.ListenPort, n.ListenPort)
		setInt(&cfg.Network.ReplyPort, n.ReplyPort)
		setInt(&cfg.Network.StreamPort, n.StreamPort)
		setInt(&cfg.Network.BridgePort, n.BridgePort)
	}

	if t := hclCfg.Timing; t != nil {
		durations := []struct {
			name  string
			value string
			dst   *time.Duration
		}{
			{"tick_interval", t.TickInterval, &cfg.Timing.TickInterval},
			{"idle_interval", t.IdleInterval, &cfg.Timing.IdleInterval},
			{"heartbeat_timeout", t.HeartbeatTimeout, &cfg.Timing.HeartbeatTimeout},
			{"probe_interval", t.ProbeInterval, &cfg.Timing.ProbeInterval},
			{"crash_cooldown", t.CrashCooldown, &cfg.Timing.CrashCooldown},
			{"settle_delay", t.SettleDelay, &cfg.Timing.SettleDelay},
			{"terminate_timeout", t.TerminateTimeout, &cfg.Timing.TerminateTimeout},
			{"orphan_settle", t.OrphanSettle, &cfg.Timing.OrphanSettle},
			{"startup_notify", t.StartupNotify, &cfg.Timing.StartupNotify},
		}
		for _, d := range durations {
			if d.value == "" {
				continue
			}
			parsed, err := time.ParseDuration(d.value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
			}
			if parsed <= 0 {
				return nil, fmt.Errorf("invalid %s %q: must be positive", d.name, d.value)
			}
			*d.dst = parsed
		}
	}

	if p := hclCfg.Paths; p != nil {
		setString(&cfg.Paths.ReadyFlag, p.ReadyFlag)
		setString(&cfg.Paths.ReloadPidFile, p.ReloadPidFile)
		setString(&cfg.Paths.StateFile, ExpandHome(p.StateFile))
		setString(&cfg.Paths.VideoSinkDevice, p.VideoSinkDevice)
		if len(p.PlaceholderIcons) > 0 {
			cfg.Paths.PlaceholderIcons = make([]string, 0, len(p.PlaceholderIcons))
			for _, icon := range p.PlaceholderIcons {
				cfg.Paths.PlaceholderIcons = append(cfg.Paths.PlaceholderIcons, ExpandHome(icon))
			}
		}
	}

	if t := hclCfg.Tools; t != nil {
		setString(&cfg.Tools.GraphQuery, t.GraphQuery)
		setString(&cfg.Tools.GraphCreate, t.GraphCreate)
		setString(&cfg.Tools.GraphLink, t.GraphLink)
		setString(&cfg.Tools.Loopback, t.Loopback)
		setString(&cfg.Tools.MediaPipeline, t.MediaPipeline)
		setString(&cfg.Tools.Mirror, t.Mirror)
		setString(&cfg.Tools.DeviceBridge, t.DeviceBridge)
		setString(&cfg.Tools.Notifier, t.Notifier)
	}

	if g := hclCfg.Graph; g != nil {
		setString(&cfg.Graph.InboundVoid, g.InboundVoid)
		setString(&cfg.Graph.OutboundVoid, g.OutboundVoid)
		setString(&cfg.Graph.VirtualMic, g.VirtualMic)
		setString(&cfg.Graph.MirrorSource, g.MirrorSource)
		setString(&cfg.Graph.OutboundSink, g.OutboundSink)
		setString(&cfg.Graph.InboundSink, g.InboundSink)
		if len(g.Channels) > 0 {
			cfg.Graph.Channels = g.Channels
		}

		// Link rules reference node names, so rebuild them from the final names
		// unless the file spells them out
		cfg.Graph.Links = DefaultLinks(cfg.Graph)
		cfg.Graph.Unlinks = DefaultUnlinks(cfg.Graph)
		if len(g.Links) > 0 {
			cfg.Graph.Links = convertPairs(g.Links)
		}
		if len(g.Unlinks) > 0 {
			cfg.Graph.Unlinks = convertPairs(g.Unlinks)
		}
	}

	return cfg, nil
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	cfg := &Configuration{
		Network: NetworkConfig{
			ListenPort: 5001,
			ReplyPort:  5002,
			StreamPort: 5000,
			BridgePort: 5555,
		},
		Timing: TimingConfig{
			TickInterval:     500 * time.Millisecond,
			IdleInterval:     1 * time.Second,
			HeartbeatTimeout: 10 * time.Second,
			ProbeInterval:    1 * time.Second,
			CrashCooldown:    3 * time.Second,
			SettleDelay:      2 * time.Second,
			TerminateTimeout: 5 * time.Second,
			OrphanSettle:     500 * time.Millisecond,
			StartupNotify:    5 * time.Second,
		},
		Paths: PathConfig{
			ReadyFlag:       "/tmp/zbridge_ready",
			ReloadPidFile:   "/tmp/zbridge_config_pid",
			StateFile:       ExpandHome("~/" + BaseDirName + "/" + StateFileName),
			VideoSinkDevice: "/dev/video9",
			PlaceholderIcons: []string{
				ExpandHome("~/.local/share/zbridge/camera-off.png"),
				"/usr/share/zbridge/camera-off.png",
				"/usr/share/icons/Adwaita/256x256/legacy/camera-disabled.png",
			},
		},
		Tools: ToolConfig{
			GraphQuery:    "pw-dump",
			GraphCreate:   "pw-cli",
			GraphLink:     "pw-link",
			Loopback:      "pw-loopback",
			MediaPipeline: "gst-launch-1.0",
			Mirror:        "scrcpy",
			DeviceBridge:  "adb",
			Notifier:      "notify-send",
		},
		Graph: GraphConfig{
			InboundVoid:  "zbin",
			OutboundVoid: "zbout",
			VirtualMic:   "zmic",
			MirrorSource: "SDL Application",
			OutboundSink: "ZBridge_Desktop",
			InboundSink:  "ZBridge_Monitor",
			Channels:     []string{"FL", "FR"},
		},
	}
	cfg.Graph.Links = DefaultLinks(cfg.Graph)
	cfg.Graph.Unlinks = DefaultUnlinks(cfg.Graph)
	return cfg
}

// DefaultLinks returns the routing links every pass enforces:
// inbound void monitor into the virtual mic, mirror audio into the inbound sink
func DefaultLinks(g GraphConfig) []PortPair {
	var pairs []PortPair
	for _, ch := range g.Channels {
		pairs = append(pairs,
			PortPair{From: g.InboundVoid + ":monitor_" + ch, To: g.VirtualMic + ":input_" + ch},
			PortPair{From: g.MirrorSource + ":output_" + ch, To: "input." + g.InboundSink + ":playback_" + ch},
		)
	}
	return pairs
}

// DefaultUnlinks returns the anti-feedback rules: links that would loop phone
// audio back to the phone
func DefaultUnlinks(g GraphConfig) []PortPair {
	var pairs []PortPair
	for _, ch := range g.Channels {
		pairs = append(pairs,
			PortPair{From: g.MirrorSource + ":output_" + ch, To: g.OutboundVoid + ":playback_" + ch},
			PortPair{From: "output." + g.InboundSink + ":output_" + ch, To: g.OutboundVoid + ":playback_" + ch},
			PortPair{From: g.VirtualMic + ":capture_" + ch, To: "input." + g.OutboundSink + ":playback_" + ch},
		)
	}
	return pairs
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

func convertPairs(in []hclPortPair) []PortPair {
	out := make([]PortPair, 0, len(in))
	for _, p := range in {
		out = append(out, PortPair{From: p.From, To: p.To})
	}
	return out
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
