package daemon

import (
	"os"
	"strconv"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/proc"
)

// Role names a supervised media process
type Role string

const (
	RoleAudioStream Role = "audio"
	RoleMirror      Role = "mirror"
	RolePlaceholder Role = "placeholder"
)

// roles is the supervision order. Stops run in this order before any start,
// so the placeholder and the mirror never hold the video sink together.
var roles = []Role{RolePlaceholder, RoleMirror, RoleAudioStream}

const (
	mirrorAudioBitrate = "128K"
	placeholderText    = "Camera off"
	placeholderColor   = "0xff1e1e1e"
	placeholderCaps    = "video/x-raw,width=1280,height=720,framerate=30/1"
)

// AudioStreamSpec captures the outbound void node and streams it to the phone
// as low-latency Opus over RTP
func AudioStreamSpec(cfg *core.Configuration, snap core.Snapshot) proc.Spec {
	return proc.Spec{
		Name: string(RoleAudioStream),
		Path: cfg.Tools.MediaPipeline,
		Args: []string{
			"-q",
			"pipewiresrc", "target-object=" + cfg.Graph.OutboundVoid, "!",
			"audioconvert", "!",
			"opusenc",
			"bitrate=" + strconv.Itoa(snap.AudioBitrate),
			"audio-type=voice",
			"frame-size=10",
			"inband-fec=true",
			"packet-loss-percentage=" + strconv.Itoa(snap.PacketLossPercent), "!",
			"rtpopuspay", "!",
			"udpsink", "host=" + snap.TargetHost(), "port=" + strconv.Itoa(cfg.Network.StreamPort),
			"sync=false", "async=false",
		},
	}
}

// MirrorWanted reports whether the mirroring process has anything to carry
func MirrorWanted(snap core.Snapshot) bool {
	return snap.MonitorEnabled || snap.CameraEnabled()
}

// MirrorSpec builds the mirroring command from the snapshot. The phone mic is
// captured only when monitoring is on; the camera only when a facing is set,
// fanned out to the video sink device when present.
func MirrorSpec(cfg *core.Configuration, snap core.Snapshot, videoSink bool) proc.Spec {
	args := []string{
		"--serial", core.WithPort(snap.PhoneAddress, cfg.Network.BridgePort),
		"--no-window",
	}

	if snap.MonitorEnabled {
		args = append(args, "--audio-source=mic", "--audio-codec=opus", "--audio-bit-rate="+mirrorAudioBitrate)
	} else {
		args = append(args, "--no-audio")
	}

	if !snap.CameraEnabled() {
		args = append(args, "--no-video")
	} else {
		args = append(args,
			"--video-source=camera",
			"--camera-facing="+snap.Facing(),
			"--capture-orientation="+snap.Orientation(),
		)
		if videoSink {
			args = append(args, "--v4l2-sink="+cfg.Paths.VideoSinkDevice)
		}
	}

	return proc.Spec{
		Name: string(RoleMirror),
		Path: cfg.Tools.Mirror,
		Args: args,
		Env:  []string{"PULSE_SINK=" + cfg.Graph.InboundSink},
		PTY:  true,
	}
}

// PlaceholderSpec renders a static frame into the video sink device: a solid
// background with the icon when one is given, a text caption otherwise
func PlaceholderSpec(cfg *core.Configuration, icon string) proc.Spec {
	args := []string{
		"-q",
		"videotestsrc", "pattern=solid-color", "foreground-color=" + placeholderColor, "is-live=true", "!",
		placeholderCaps, "!",
	}
	if icon != "" {
		args = append(args, "gdkpixbufoverlay", `location="`+icon+`"`, "relative-x=0.4", "relative-y=0.35", "!")
	} else {
		args = append(args, "textoverlay", `text="`+placeholderText+`"`, "valignment=center", "halignment=center", `font-desc="Sans 36"`, "!")
	}
	args = append(args,
		"videoconvert", "!",
		"video/x-raw,format=YUY2", "!",
		"v4l2sink", "device="+cfg.Paths.VideoSinkDevice, "sync=false",
	)

	return proc.Spec{
		Name: string(RolePlaceholder),
		Path: cfg.Tools.MediaPipeline,
		Args: args,
	}
}

// findIcon returns the first existing path
func findIcon(paths []string, exists func(string) bool) string {
	for _, p := range paths {
		if exists(p) {
			return p
		}
	}
	return ""
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
