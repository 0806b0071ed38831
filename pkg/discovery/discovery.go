// Package discovery implements the LAN broadcast beacon used to find peers
// without a known address: a well-known two-byte prefix distinguishes
// discovery traffic from the reliable transport's own datagrams sharing the
// same broadcast domain.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"
)

// prefix is the fixed two-byte marker preceding every discovery payload.
var prefix = []byte{0x04, 0x02}

// Encode frames name as a discovery broadcast payload.
func Encode(name string) []byte {
	out := make([]byte, 0, len(prefix)+len(name))
	out = append(out, prefix...)
	out = append(out, name...)
	return out
}

// Decode strips the discovery prefix from data, reporting ok=false (and
// leaving the packet to the caller to otherwise ignore) if it doesn't
// match.
func Decode(data []byte) (name string, ok bool) {
	if len(data) < len(prefix) || !bytes.Equal(data[:len(prefix)], prefix) {
		return "", false
	}
	return string(data[len(prefix):]), true
}

// Beacon periodically broadcasts this host's name on port until the
// context is cancelled.
type Beacon struct {
	Name     string
	Port     int
	Interval time.Duration
}

// Run broadcasts until ctx is cancelled or a send fails.
func (b *Beacon) Run(ctx context.Context) error {
	interval := b.Interval
	if interval <= 0 {
		interval = time.Second
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("255.255.255.255:%d", b.Port))
	if err != nil {
		return err
	}
	lc := net.ListenConfig{Control: broadcastControl}
	pc, err := lc.ListenPacket(ctx, "udp4", "")
	if err != nil {
		return err
	}
	conn := pc.(*net.UDPConn)
	defer conn.Close()

	payload := Encode(b.Name)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := conn.WriteToUDP(payload, addr); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Listener receives discovery beacons on a well-known port.
type Listener struct {
	conn *net.UDPConn
}

// Listen binds port for inbound discovery broadcasts.
func Listen(port int) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &Listener{conn: conn}, nil
}

// Accept blocks for the next valid discovery packet, returning the
// announced name and sender. Packets not matching the discovery prefix are
// silently skipped, as spec.md requires ("listeners... ignore packets that
// don't match the two-byte prefix").
func (l *Listener) Accept() (name string, from *net.UDPAddr, err error) {
	buf := make([]byte, 512)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return "", nil, err
		}
		if name, ok := Decode(buf[:n]); ok {
			return name, addr, nil
		}
	}
}

// Close releases the listening socket.
func (l *Listener) Close() error { return l.conn.Close() }
