package transport

import (
	"context"
	"net"

	"golang.org/x/net/ipv4"
)

// listenUDP binds addr, optionally setting SO_REUSEPORT (so multiple
// processes can share one port) via the platform-specific reusePortControl,
// and applies a conservative default TTL to the resulting socket.
func listenUDP(addr string, reusePort bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{}
	if reusePort {
		lc.Control = reusePortControl
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)

	// Best-effort: every listening socket gets an IPv4 unicast TTL of 64;
	// an error from SetTTL (e.g. on an IPv6-only socket) is ignored.
	if p := ipv4.NewPacketConn(conn); p != nil {
		_ = p.SetTTL(64)
	}
	return conn, nil
}
