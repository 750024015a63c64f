package daemon

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Prober advertises this host to a phone that has not connected yet
type Prober struct {
	replyPort int
	interval  time.Duration
	last      time.Time

	now     func() time.Time
	localIP func(host string, port int) (string, error)
	send    func(payload []byte, addr *net.UDPAddr) error
}

// NewProber creates a prober sending through send
func NewProber(replyPort int, interval time.Duration, send func([]byte, *net.UDPAddr) error) *Prober {
	return &Prober{
		replyPort: replyPort,
		interval:  interval,
		now:       time.Now,
		localIP:   LocalAddrFor,
		send:      send,
	}
}

// Probe sends "SYNC:<host-ip>" to the phone at addr unless one was sent
// within the interval. It reports whether a probe went out.
func (p *Prober) Probe(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		slog.Debug("Probe needs an IP address", "addr", addr)
		return false
	}

	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return false
	}
	p.last = now

	local, err := p.localIP(ip.String(), p.replyPort)
	if err != nil {
		slog.Debug("No route to phone", "addr", addr, "error", err)
		return false
	}

	to := &net.UDPAddr{IP: ip, Port: p.replyPort}
	if err := p.send([]byte(syncPrefix+local), to); err != nil {
		slog.Debug("Failed to send probe", "to", to.String(), "error", err)
		return false
	}
	slog.Debug("Probe sent", "to", to.String(), "local", local)
	return true
}

// Reset makes the next Probe send immediately
func (p *Prober) Reset() {
	p.last = time.Time{}
}

// LocalAddrFor returns the address of the interface the kernel would use to
// reach host. No packet is sent.
func LocalAddrFor(host string, port int) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "", fmt.Errorf("failed to route to %s: %w", host, err)
	}
	defer conn.Close()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %s", conn.LocalAddr())
	}
	return udpAddr.IP.String(), nil
}
