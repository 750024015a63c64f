package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.zerobridge.dev/zbridge/internal/core"
	"go.zerobridge.dev/zbridge/internal/notify"
	"go.zerobridge.dev/zbridge/internal/proc"
)

// quietLogger suppresses default slog output during tests and restores it after.
func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testConfig returns default settings with every path inside a temp dir
func testConfig(t *testing.T) *core.Configuration {
	t.Helper()
	dir := t.TempDir()
	cfg := core.GetDefaultConfig()
	cfg.ConfigPath = dir
	cfg.Paths.ReadyFlag = filepath.Join(dir, "zbridge_ready")
	cfg.Paths.ReloadPidFile = filepath.Join(dir, "zbridge_config_pid")
	cfg.Paths.StateFile = filepath.Join(dir, "state.conf")
	cfg.Paths.VideoSinkDevice = filepath.Join(dir, "video9")
	cfg.Paths.PlaceholderIcons = nil
	cfg.Timing.TerminateTimeout = 2 * time.Second
	return cfg
}

func writeState(t *testing.T, cfg *core.Configuration, content string) {
	t.Helper()
	if err := os.WriteFile(cfg.Paths.StateFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeStarter records launch specs and runs a harmless stand-in instead
type fakeStarter struct {
	mu      sync.Mutex
	specs   []proc.Spec
	command []string // stand-in command, sleep 60 when empty
}

func (f *fakeStarter) start(s proc.Spec) (*proc.Process, error) {
	f.mu.Lock()
	f.specs = append(f.specs, s)
	command := f.command
	f.mu.Unlock()

	if len(command) == 0 {
		command = []string{"sleep", "60"}
	}
	return proc.Start(proc.Spec{Name: s.Name, Path: command[0], Args: command[1:]})
}

func (f *fakeStarter) started(name string) []proc.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []proc.Spec
	for _, s := range f.specs {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type fakeBridge struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeBridge) Connect(ctx context.Context, serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serial)
	return f.err
}

type noOrphans struct{}

func (noOrphans) Find(fragments ...string) ([]int, error) { return nil, nil }

func (noOrphans) Terminate(pid int, timeout time.Duration, label string) error { return nil }

// nopRunner accepts every graph mutation and has no snapshot to offer
type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if name == "pw-dump" {
		return nil, errors.New("no graph")
	}
	return nil, nil
}

type datagram struct {
	payload string
	addr    string
}

type sendRecorder struct {
	mu   sync.Mutex
	sent []datagram
}

func (r *sendRecorder) send(payload []byte, addr *net.UDPAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, datagram{payload: string(payload), addr: addr.String()})
	return nil
}

func (r *sendRecorder) all() []datagram {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datagram(nil), r.sent...)
}

func (r *sendRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func newTestSupervisor(t *testing.T, cfg *core.Configuration, clk *fakeClock) (*Supervisor, *fakeStarter, *fakeBridge) {
	t.Helper()
	starter := &fakeStarter{}
	bridge := &fakeBridge{}
	s := NewSupervisor(cfg)
	s.start = starter.start
	s.bridge = bridge
	s.now = clk.Now
	t.Cleanup(func() { s.StopAll("test cleanup") })
	return s, starter, bridge
}

type testDaemon struct {
	*Daemon
	clock    *fakeClock
	starter  *fakeStarter
	loopback *fakeStarter
	bridge   *fakeBridge
	sent     *sendRecorder
	notes    []string
}

func newTestDaemon(t *testing.T, cfg *core.Configuration, opts Options) *testDaemon {
	t.Helper()
	clk := newFakeClock()
	td := &testDaemon{clock: clk, sent: &sendRecorder{}, loopback: &fakeStarter{}}

	d := New(cfg, opts)
	d.now = clk.Now
	d.startedAt = clk.Now()
	d.session = NewSession(clk.Now)

	s, starter, bridge := newTestSupervisor(t, cfg, clk)
	s.onEvent = d.logProcessEvent
	d.supervisor = s
	td.starter = starter
	td.bridge = bridge

	d.graph.Runner = nopRunner{}
	d.graph.Loopbacks.Start = td.loopback.start
	d.graph.Loopbacks.Orphans = noOrphans{}
	d.graph.Loopbacks.Sleep = func(time.Duration) {}

	d.listener = &Listener{session: d.session, replyPort: cfg.Network.ReplyPort, onConnect: d.onConnected, send: td.sent.send}
	d.prober = NewProber(cfg.Network.ReplyPort, cfg.Timing.ProbeInterval, td.sent.send)
	d.prober.now = clk.Now
	d.prober.localIP = func(host string, port int) (string, error) { return "192.168.1.10", nil }

	d.notifier = notify.Func(func(title, body string) error {
		td.notes = append(td.notes, title)
		return nil
	})

	td.Daemon = d
	t.Cleanup(d.shutdown)
	return td
}

func (td *testDaemon) tick() time.Duration {
	return td.Daemon.tick(context.Background())
}

// heartbeat delivers a READY datagram as if it came from host
func (td *testDaemon) heartbeat(host string) {
	td.listener.handle([]byte("READY"), &net.UDPAddr{IP: net.ParseIP(host), Port: 40000})
}
