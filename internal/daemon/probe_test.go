package daemon

import (
	"net"
	"testing"
	"time"
)

func TestProber_RateLimited(t *testing.T) {
	quietLogger(t)
	clk := newFakeClock()
	sent := &sendRecorder{}
	p := NewProber(5002, time.Second, sent.send)
	p.now = clk.Now
	p.localIP = func(host string, port int) (string, error) { return "192.168.1.10", nil }

	if !p.Probe("192.168.1.5") {
		t.Fatal("first probe should be sent")
	}
	clk.Advance(500 * time.Millisecond)
	if p.Probe("192.168.1.5") {
		t.Error("probe within the interval should be skipped")
	}
	clk.Advance(500 * time.Millisecond)
	if !p.Probe("192.168.1.5") {
		t.Error("probe after the interval should be sent")
	}

	got := sent.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 probes, got %d", len(got))
	}
	if got[0].payload != "SYNC:192.168.1.10" || got[0].addr != "192.168.1.5:5002" {
		t.Errorf("unexpected probe %+v", got[0])
	}
}

func TestProber_Reset(t *testing.T) {
	quietLogger(t)
	clk := newFakeClock()
	sent := &sendRecorder{}
	p := NewProber(5002, time.Second, sent.send)
	p.now = clk.Now
	p.localIP = func(host string, port int) (string, error) { return "10.0.0.2", nil }

	p.Probe("10.0.0.9")
	p.Reset()
	if !p.Probe("10.0.0.9") {
		t.Error("probe after Reset should be sent immediately")
	}
}

func TestProber_NoRoute(t *testing.T) {
	quietLogger(t)
	sent := &sendRecorder{}
	p := NewProber(5002, time.Second, sent.send)
	p.localIP = func(host string, port int) (string, error) { return "", &net.AddrError{Err: "no route", Addr: host} }

	if p.Probe("192.168.1.5") {
		t.Error("probe without a route must not be reported as sent")
	}
	if len(sent.all()) != 0 {
		t.Error("nothing should be sent without a route")
	}
}

func TestLocalAddrFor(t *testing.T) {
	ip, err := LocalAddrFor("127.0.0.1", 5002)
	if err != nil {
		t.Fatalf("LocalAddrFor() error: %v", err)
	}
	if ip != "127.0.0.1" {
		t.Errorf("expected 127.0.0.1, got %s", ip)
	}
}

func TestProber_RequiresResolvedAddress(t *testing.T) {
	quietLogger(t)
	sent := &sendRecorder{}
	p := NewProber(5002, time.Second, sent.send)
	p.localIP = func(host string, port int) (string, error) { return "192.168.1.10", nil }

	if p.Probe("phone.lan") {
		t.Error("a host name must be resolved before sending")
	}
	if !p.Probe("192.168.1.5") {
		t.Error("a rejected name must not use up the interval")
	}
	if got := sent.all(); len(got) != 1 || got[0].addr != "192.168.1.5:5002" {
		t.Errorf("unexpected SYNC datagrams %v", got)
	}
}
