package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/daemon"
	"go.zerobridge.dev/zbridge/internal/db"
)

func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func testConfig(t *testing.T) *core.Configuration {
	t.Helper()
	dir := t.TempDir()
	cfg := core.GetDefaultConfig()
	cfg.ConfigPath = dir
	cfg.Paths.ReadyFlag = filepath.Join(dir, "zbridge_ready")
	cfg.Paths.ReloadPidFile = filepath.Join(dir, "zbridge_config_pid")
	cfg.Paths.StateFile = filepath.Join(dir, "state.conf")
	return cfg
}

func TestLoadConfiguration(t *testing.T) {
	t.Run("defaults without settings file", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := loadConfiguration(dir, 2)
		if err != nil {
			t.Fatalf("loadConfiguration() error: %v", err)
		}
		if cfg.ConfigPath != dir {
			t.Errorf("expected config path %q, got %q", dir, cfg.ConfigPath)
		}
		if cfg.Verbose != 2 {
			t.Errorf("expected verbose 2, got %d", cfg.Verbose)
		}
		if cfg.Network.ListenPort != core.GetDefaultConfig().Network.ListenPort {
			t.Error("expected default listen port")
		}
	})

	t.Run("settings file", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, core.SettingsFileName), []byte("verbose = 1\nnetwork {\n  listen_port = 6100\n}\n"), 0o644)

		cfg, err := loadConfiguration(dir, 0)
		if err != nil {
			t.Fatalf("loadConfiguration() error: %v", err)
		}
		if cfg.Network.ListenPort != 6100 {
			t.Errorf("expected listen port 6100, got %d", cfg.Network.ListenPort)
		}
		if cfg.Verbose != 1 {
			t.Errorf("expected verbose from file, got %d", cfg.Verbose)
		}
	})

	t.Run("invalid settings file", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, core.SettingsFileName), []byte("network {"), 0o644)

		if _, err := loadConfiguration(dir, 0); err == nil {
			t.Error("expected error for invalid settings")
		}
	})
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	pid, err := readPID(filepath.Join(dir, "missing.pid"))
	if err != nil || pid != 0 {
		t.Errorf("missing file: got %d, %v", pid, err)
	}

	bad := filepath.Join(dir, "bad.pid")
	os.WriteFile(bad, []byte("not-a-pid"), 0o644)
	if _, err := readPID(bad); err == nil {
		t.Error("expected error for garbage PID file")
	}

	good := filepath.Join(dir, "good.pid")
	os.WriteFile(good, []byte("4242\n"), 0o644)
	if pid, err := readPID(good); err != nil || pid != 4242 {
		t.Errorf("expected 4242, got %d, %v", pid, err)
	}
}

func TestRunningDaemon(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	pidFile := filepath.Join(cfg.ConfigPath, core.PidFileName)

	if pid := runningDaemon(cfg); pid != 0 {
		t.Errorf("expected no daemon without PID file, got %d", pid)
	}

	// $0 of the shell carries the daemon argument
	fake := exec.Command("sh", "-c", "sleep 60; true", "daemon")
	if err := fake.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go fake.Wait()
	t.Cleanup(func() { fake.Process.Kill() })

	os.WriteFile(pidFile, []byte(strconv.Itoa(fake.Process.Pid)), 0o644)
	if pid := runningDaemon(cfg); pid != fake.Process.Pid {
		t.Errorf("expected daemon PID %d, got %d", fake.Process.Pid, pid)
	}

	other := exec.Command("sleep", "60")
	if err := other.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go other.Wait()
	t.Cleanup(func() { other.Process.Kill() })

	os.WriteFile(pidFile, []byte(strconv.Itoa(other.Process.Pid)), 0o644)
	if pid := runningDaemon(cfg); pid != 0 {
		t.Errorf("reused PID must not count as the daemon, got %d", pid)
	}
}

func TestWaitForExit(t *testing.T) {
	short := exec.Command("sleep", "0.1")
	if err := short.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go short.Wait()

	if !waitForExit(short.Process.Pid, 3*time.Second) {
		t.Error("expected process to exit")
	}

	long := exec.Command("sleep", "60")
	if err := long.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go long.Wait()
	t.Cleanup(func() { long.Process.Kill() })

	if waitForExit(long.Process.Pid, 200*time.Millisecond) {
		t.Error("expected timeout for a running process")
	}
}

func TestRequestReload(t *testing.T) {
	quietLogger(t)
	ackFile := filepath.Join(t.TempDir(), "zbridge_config_pid")

	// Play the daemon side in this process
	reloads := make(chan os.Signal, 1)
	signal.Notify(reloads, syscall.SIGUSR1)
	defer signal.Stop(reloads)
	go func() {
		<-reloads
		daemon.AckReload(ackFile)
	}()

	acked, err := requestReload(ackFile, os.Getpid(), 3*time.Second)
	if err != nil {
		t.Fatalf("requestReload() error: %v", err)
	}
	if !acked {
		t.Error("expected acknowledgment")
	}
	if _, err := os.Stat(ackFile); !os.IsNotExist(err) {
		t.Error("expected reload PID file to be consumed")
	}
}

func TestRequestReload_Timeout(t *testing.T) {
	ackFile := filepath.Join(t.TempDir(), "zbridge_config_pid")

	// A daemon that ignores SIGUSR1 and never answers
	silent := exec.Command("sh", "-c", "trap '' USR1; sleep 60")
	if err := silent.Start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	go silent.Wait()
	t.Cleanup(func() { silent.Process.Kill() })
	time.Sleep(100 * time.Millisecond)

	acked, err := requestReload(ackFile, silent.Process.Pid, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("requestReload() error: %v", err)
	}
	if acked {
		t.Error("expected no acknowledgment")
	}
	if _, err := os.Stat(ackFile); !os.IsNotExist(err) {
		t.Error("expected reload PID file to be removed after timeout")
	}
}

func TestGatherStatus(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)
	os.WriteFile(cfg.Paths.StateFile, []byte("PHONE_IP=192.168.1.5\nMONITOR=on\nCAM_FACING=front\n"), 0o644)
	daemon.Marker(cfg.Paths.ReadyFlag).Set()

	journal, err := db.Open(filepath.Join(cfg.ConfigPath, core.DatabaseFileName))
	if err != nil {
		t.Fatalf("db.Open() error: %v", err)
	}
	journal.LogConnectionEvent("192.168.1.5", "connected", "session abc")
	journal.LogProcessEvent("mirror", "started", 1234, "scrcpy")
	journal.LogProcessEvent("mirror", "stopped", 1234, "heartbeat timeout after 42s")
	journal.Close()

	status := gatherStatus(cfg, 5, true)

	if status.Running {
		t.Error("no daemon is running in this test")
	}
	if status.Phone != "192.168.1.5" || !status.Monitor || status.Desktop || status.Camera != "front" {
		t.Errorf("unexpected snapshot fields: %+v", status)
	}
	if !status.Ready {
		t.Error("expected ready flag")
	}
	if len(status.Events) != 1 || len(status.Processes) != 1 {
		t.Fatalf("expected journal events, got %+v", status)
	}
	if len(status.History) != 2 || status.History[0].EventType != "stopped" {
		t.Errorf("expected process history newest first, got %+v", status.History)
	}
	if brief := gatherStatus(cfg, 5, false); len(brief.History) != 0 {
		t.Error("process history is only read on request")
	}

	var buf bytes.Buffer
	printStatus(&buf, status)
	out := buf.String()
	for _, want := range []string{"not running", "192.168.1.5", "Ready:   yes", "mirror", "connected", "Recent process events:", "after 42s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestGatherStatus_NoJournal(t *testing.T) {
	quietLogger(t)
	cfg := testConfig(t)

	status := gatherStatus(cfg, 5, true)

	if status.Phone != "" || status.Ready {
		t.Errorf("expected empty status, got %+v", status)
	}
	if _, err := os.Stat(filepath.Join(cfg.ConfigPath, core.DatabaseFileName)); !os.IsNotExist(err) {
		t.Error("status must not create the journal")
	}

	var buf bytes.Buffer
	printStatus(&buf, status)
	if !strings.Contains(buf.String(), "not configured") {
		t.Errorf("expected unconfigured phone, got:\n%s", buf.String())
	}
}

func TestRootCommand_Version(t *testing.T) {
	quietLogger(t)
	old := core.Config
	t.Cleanup(func() { core.Config = old })

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config-path", t.TempDir(), "version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "zbridge ") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestStopCommand_NotRunning(t *testing.T) {
	quietLogger(t)
	old := core.Config
	t.Cleanup(func() { core.Config = old })

	root := NewRootCommand()
	root.SetArgs([]string{"--config-path", t.TempDir(), "stop"})

	if err := root.Execute(); err != nil {
		t.Errorf("stop without a daemon should not fail, got %v", err)
	}
}
