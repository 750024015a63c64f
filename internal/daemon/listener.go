package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	readyMarker = "READY"
	ackPrefix   = "ACK:"
	syncPrefix  = "SYNC:"

	receiveTimeout = 1 * time.Second
	errorPause     = 1 * time.Second
	maxDatagram    = 1024
)

// Listener receives handshake and heartbeat datagrams from the phone
type Listener struct {
	conn      *net.UDPConn
	session   *Session
	replyPort int

	// Called outside the session lock when a heartbeat connects the session
	onConnect func(host string)
	send      func(payload []byte, addr *net.UDPAddr) error
}

// Listen binds the handshake socket on all interfaces
func Listen(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", port, err)
	}
	return conn, nil
}

// NewListener wraps a bound socket
func NewListener(conn *net.UDPConn, session *Session, replyPort int, onConnect func(host string)) *Listener {
	l := &Listener{
		conn:      conn,
		session:   session,
		replyPort: replyPort,
		onConnect: onConnect,
	}
	l.send = l.writeTo
	return l
}

// Send writes a datagram from the handshake socket
func (l *Listener) Send(payload []byte, addr *net.UDPAddr) error {
	return l.send(payload, addr)
}

func (l *Listener) writeTo(payload []byte, addr *net.UDPAddr) error {
	_, err := l.conn.WriteToUDP(payload, addr)
	return err
}

// Run receives datagrams until ctx is cancelled
func (l *Listener) Run(ctx context.Context) {
	slog.Info(fmt.Sprintf("Listening for handshakes on UDP %s", l.conn.LocalAddr()))
	buf := make([]byte, maxDatagram)

	for {
		if ctx.Err() != nil {
			return
		}

		l.conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("Handshake listener error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorPause):
			}
			continue
		}

		l.handle(buf[:n], from)
	}
}

// handle processes one datagram
func (l *Listener) handle(payload []byte, from *net.UDPAddr) {
	if !utf8.Valid(payload) {
		slog.Warn("Ignoring datagram that is not valid UTF-8", "from", from.String())
		return
	}
	msg := strings.TrimSpace(string(payload))
	if !strings.Contains(msg, readyMarker) {
		slog.Debug("Ignoring unexpected datagram", "from", from.String(), "payload", msg)
		return
	}

	host := from.IP.String()
	accepted, connected := l.session.Heartbeat(host)
	switch {
	case connected:
		if l.onConnect != nil {
			l.onConnect(host)
		}
	case accepted:
		slog.Debug("Heartbeat", "from", host)
	default:
		slog.Debug("Handshake from an address other than the configured phone", "from", host)
	}

	ack := []byte(ackPrefix + l.session.ID())
	reply := &net.UDPAddr{IP: from.IP, Port: l.replyPort}
	if err := l.send(ack, reply); err != nil {
		slog.Warn("Failed to send acknowledgment", "to", reply.String(), "error", err)
	}
}

// Close closes the socket
func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}
