package daemon

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.zerobridge.dev/zbridge/internal/core"
)

func connectedSnapshot() core.Snapshot {
	snap := snapshotFor("192.168.1.5")
	snap.MonitorEnabled = true
	snap.DesktopLoopbackEnabled = true
	snap.CameraFacing = core.FacingBack
	return snap
}

func waitExit(t *testing.T, s *Supervisor, role Role) {
	t.Helper()
	m := s.row(role)
	if m.proc == nil {
		t.Fatalf("%s has no process", role)
	}
	select {
	case <-m.proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not exit", role)
	}
}

func TestSupervisor_StartsWantedRoles(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, starter, bridge := newTestSupervisor(t, cfg, clk)

	s.Supervise(context.Background(), connectedSnapshot())

	if s.Running(RoleAudioStream) == nil || s.Running(RoleMirror) == nil {
		t.Fatal("expected audio stream and mirror to run")
	}
	if s.Running(RolePlaceholder) != nil {
		t.Error("placeholder must not run while the camera is on")
	}
	if len(bridge.calls) != 1 || bridge.calls[0] != "192.168.1.5:5555" {
		t.Errorf("expected one bridge connect before mirroring, got %v", bridge.calls)
	}
	if len(starter.started("mirror")) != 1 || len(starter.started("audio")) != 1 {
		t.Errorf("unexpected launches %v", starter.specs)
	}
}

func TestSupervisor_NoChurnWhenUnchanged(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, starter, _ := newTestSupervisor(t, cfg, clk)
	snap := connectedSnapshot()

	s.Supervise(context.Background(), snap)
	first := s.Running(RoleMirror)
	for i := 0; i < 5; i++ {
		clk.Advance(500 * time.Millisecond)
		s.Supervise(context.Background(), snap)
	}

	if s.Running(RoleMirror) != first {
		t.Error("mirror was restarted although its spec did not change")
	}
	if n := len(starter.started("mirror")); n != 1 {
		t.Errorf("expected a single mirror launch, got %d", n)
	}
}

func TestSupervisor_HotSwapWaitsForSettle(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, starter, _ := newTestSupervisor(t, cfg, clk)
	snap := connectedSnapshot()

	s.Supervise(context.Background(), snap)
	old := s.Running(RoleMirror)

	snap.CameraFacing = core.FacingFront
	s.Supervise(context.Background(), snap)

	if old.Alive() {
		t.Fatal("expected the old mirror process to be terminated")
	}
	if s.Running(RoleMirror) != nil {
		t.Fatal("relaunch must wait for the settle delay")
	}

	clk.Advance(cfg.Timing.SettleDelay - time.Millisecond)
	s.Supervise(context.Background(), snap)
	if s.Running(RoleMirror) != nil {
		t.Fatal("relaunched before the settle delay elapsed")
	}

	clk.Advance(time.Millisecond)
	s.Supervise(context.Background(), snap)
	if s.Running(RoleMirror) == nil {
		t.Fatal("expected relaunch after the settle delay")
	}

	launches := starter.started("mirror")
	if len(launches) != 2 {
		t.Fatalf("expected 2 mirror launches, got %d", len(launches))
	}
	if launches[0].Equal(launches[1]) {
		t.Error("relaunch must use the new spec")
	}
}

func TestSupervisor_CrashCooldown(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, starter, _ := newTestSupervisor(t, cfg, clk)
	starter.command = []string{"sh", "-c", "echo camera busy >&2; exit 1"}
	snap := connectedSnapshot()
	snap.DesktopLoopbackEnabled = false

	s.Supervise(context.Background(), snap)
	waitExit(t, s, RoleMirror)

	// The exit is noticed on this pass; no respawn for the cooldown
	s.Supervise(context.Background(), snap)
	for elapsed := time.Duration(0); elapsed < cfg.Timing.CrashCooldown; elapsed += 500 * time.Millisecond {
		if n := len(starter.started("mirror")); n != 1 {
			t.Fatalf("respawned %v after the crash", elapsed)
		}
		clk.Advance(500 * time.Millisecond)
		if elapsed+500*time.Millisecond < cfg.Timing.CrashCooldown {
			s.Supervise(context.Background(), snap)
		}
	}

	s.Supervise(context.Background(), snap)
	if n := len(starter.started("mirror")); n != 2 {
		t.Errorf("expected a respawn after the cooldown, got %d launches", n)
	}
}

func TestSupervisor_RequestedStopIsNotACrash(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, starter, _ := newTestSupervisor(t, cfg, clk)
	var events []string
	var stopDetail string
	s.onEvent = func(role, event string, pid int, detail string) {
		events = append(events, role+" "+event)
		if role == "audio" && event == "stopped" {
			stopDetail = detail
		}
	}
	snap := connectedSnapshot()

	s.Supervise(context.Background(), snap)
	snap.DesktopLoopbackEnabled = false
	s.Supervise(context.Background(), snap)
	snap.DesktopLoopbackEnabled = true
	s.Supervise(context.Background(), snap)

	if n := len(starter.started("audio")); n != 2 {
		t.Errorf("expected the audio stream to restart at once, got %d launches", n)
	}
	for _, e := range events {
		if e == "audio crashed" {
			t.Error("a requested stop must not be journaled as a crash")
		}
	}
	if !strings.Contains(stopDetail, " after ") {
		t.Errorf("expected the stop event to carry the uptime, got %q", stopDetail)
	}
}

func TestSupervisor_BridgeFailureDefersMirror(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, _, bridge := newTestSupervisor(t, cfg, clk)
	bridge.err = errors.New("failed to connect to 192.168.1.5:5555")

	s.Supervise(context.Background(), connectedSnapshot())
	if s.Running(RoleMirror) != nil {
		t.Fatal("mirror must not start without the device bridge")
	}
	if s.Running(RoleAudioStream) == nil {
		t.Error("audio stream does not depend on the device bridge")
	}

	bridge.err = nil
	clk.Advance(500 * time.Millisecond)
	s.Supervise(context.Background(), connectedSnapshot())
	if s.Running(RoleMirror) == nil {
		t.Error("expected mirror once the bridge connects")
	}
}

func TestSupervisor_Placeholder(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, starter, _ := newTestSupervisor(t, cfg, clk)
	snap := connectedSnapshot()
	snap.CameraFacing = core.FacingNone
	snap.MonitorEnabled = false

	s.Supervise(context.Background(), snap)
	if s.Running(RolePlaceholder) != nil {
		t.Fatal("placeholder needs the video sink device")
	}
	if s.Running(RoleMirror) != nil {
		t.Error("nothing to mirror with monitor off and camera none")
	}

	if err := os.WriteFile(cfg.Paths.VideoSinkDevice, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s.Supervise(context.Background(), snap)
	if s.Running(RolePlaceholder) == nil {
		t.Fatal("expected placeholder with the camera off and the device present")
	}

	// Turning the camera on swaps the placeholder for the mirror
	snap.CameraFacing = core.FacingBack
	s.Supervise(context.Background(), snap)
	if s.Running(RolePlaceholder) != nil {
		t.Error("placeholder must stop when the camera is enabled")
	}
	if s.Running(RoleMirror) == nil {
		t.Error("expected mirror with the camera on")
	}
	mirror := starter.started("mirror")
	if len(mirror) != 1 {
		t.Fatalf("expected one mirror launch, got %d", len(mirror))
	}
	found := false
	for _, a := range mirror[0].Args {
		if a == "--v4l2-sink="+cfg.Paths.VideoSinkDevice {
			found = true
		}
	}
	if !found {
		t.Errorf("expected video fan out to the sink device, got %v", mirror[0].Args)
	}
}

func TestSupervisor_StopAll(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	clk := newFakeClock()
	s, _, _ := newTestSupervisor(t, cfg, clk)

	s.Supervise(context.Background(), connectedSnapshot())
	audio, mirror := s.Running(RoleAudioStream), s.Running(RoleMirror)
	s.StopAll("test")

	if audio.Alive() || mirror.Alive() {
		t.Error("expected every process to be terminated")
	}
	for _, role := range roles {
		if s.Running(role) != nil {
			t.Errorf("%s still tracked", role)
		}
	}
}
