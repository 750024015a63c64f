package daemon

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.zerobridge.dev/zbridge/internal/core"
)

// ConnectionState is the state of the link to the phone
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Session is the connection state shared by the listener and the
// reconciliation loop. Every method holds the lock only for field access;
// callers perform marker and process side effects after the call returns.
type Session struct {
	mu            sync.Mutex
	state         ConnectionState
	target        string   // Configured phone address, as written in the state file
	addrs         []string // Resolved IPs of target, nil until resolved
	lastHeartbeat time.Time
	id            string
	now           func() time.Time
	lookup        func(host string) ([]string, error)
}

// SessionStatus is a copy of the session fields
type SessionStatus struct {
	State         ConnectionState
	Target        string
	LastHeartbeat time.Time
	ID            string
}

// NewSession creates a disconnected session with a fresh token. The token
// lets the phone notice daemon restarts.
func NewSession(now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		id:     uuid.NewString(),
		now:    now,
		lookup: net.LookupHost,
	}
}

// ID returns the session token sent in acknowledgments
func (s *Session) ID() string {
	return s.id
}

// Heartbeat records a handshake from host. It reports whether host is the
// configured, reachable target (accepted) and whether this heartbeat moved
// the session into Connected. A target given by name matches the addresses
// it resolved to.
func (s *Session) Heartbeat(host string) (accepted, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	targetHost := core.HostOnly(s.target)
	if !core.IsValidTarget(targetHost) {
		return false, false
	}
	if host != targetHost && !slices.Contains(s.addrs, host) {
		return false, false
	}
	s.lastHeartbeat = s.now()
	if s.state == Connected {
		return true, false
	}
	s.state = Connected
	return true, true
}

// CheckTimeout moves a Connected session to Disconnected when no heartbeat
// arrived within timeout. It returns the silence duration when it did.
func (s *Session) CheckTimeout(timeout time.Duration) (timedOut bool, silence time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return false, 0
	}
	silence = s.now().Sub(s.lastHeartbeat)
	if silence <= timeout {
		return false, 0
	}
	s.state = Disconnected
	// The phone may come back with a new lease
	s.addrs = nil
	return true, silence
}

// SetTarget updates the configured phone address. A different address is a
// full reset: the session becomes Disconnected with no heartbeat recorded.
func (s *Session) SetTarget(addr string) (changed bool, previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr == s.target {
		return false, s.target
	}
	previous = s.target
	s.target = addr
	s.addrs = nil
	s.state = Disconnected
	s.lastHeartbeat = time.Time{}
	return true, previous
}

// ResolveTarget returns the IP addresses of the configured phone, looking a
// host name up once per target. Loopback results are dropped. The lookup runs
// outside the lock.
func (s *Session) ResolveTarget() ([]string, error) {
	s.mu.Lock()
	target, addrs := s.target, s.addrs
	s.mu.Unlock()

	if addrs != nil {
		return addrs, nil
	}
	host := core.HostOnly(target)
	if !core.IsValidTarget(host) {
		return nil, errors.New("no valid phone address configured")
	}

	candidates := []string{host}
	if net.ParseIP(host) == nil {
		found, err := s.lookup(host)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
		}
		candidates = found
	}
	for _, c := range candidates {
		if ip := net.ParseIP(c); ip != nil && !ip.IsLoopback() {
			addrs = append(addrs, ip.String())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%s resolves to no usable address", host)
	}

	s.mu.Lock()
	if s.target == target {
		s.addrs = addrs
	}
	s.mu.Unlock()
	return addrs, nil
}

// State returns the current connection state
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a copy of the session fields
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		State:         s.state,
		Target:        s.target,
		LastHeartbeat: s.lastHeartbeat,
		ID:            s.id,
	}
}
