package transport

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/wire"
)

// ErrListenerClosed is returned by Serve after Close stops it.
var ErrListenerClosed = errors.New("transport: listener closed")

const tickInterval = 100 * time.Millisecond

// udpSocket is the subset of *net.UDPConn the listener needs; tests supply
// an in-memory fake.
type udpSocket interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	Close() error
}

// Listener demultiplexes inbound datagrams by remote address into
// per-peer Connections, runs the shared 100ms retransmit/keep-alive tick
// across all of them, and gates new peers through an admission callback.
type Listener struct {
	mu      sync.Mutex
	conn    udpSocket
	closing bool
	peers   map[netip.AddrPort]*Connection
	stop    chan struct{}

	reliabilityTunables reliability.Tunables
	keepAliveTunables   keepalive.Tunables
	minHandshakeVersion int
	maxConnections      int

	// ReusePort sets SO_REUSEPORT on the bound socket (unix only); see
	// socket_unix.go.
	ReusePort bool

	// OnConnectionInit is consulted for every admitted-looking Hello from
	// an unknown remote. Returning ok=false drops the peer; if payload is
	// non-nil it is sent to the remote first as a rejection.
	OnConnectionInit func(remote netip.AddrPort, helloPayload []byte) (payload []byte, ok bool)
	// OnNewConnection is invoked once a peer is admitted and its
	// Connection created (already Connected), with the handshake payload
	// that followed the hello version byte.
	OnNewConnection func(remote netip.AddrPort, conn *Connection, handshakePayload []byte)

	monitorMu   sync.Mutex
	monitorSubs map[chan MonitorPacket]struct{}
}

// MonitorPacket is a single framed datagram observed by a Listener, fed to
// any subscriber registered via Monitor. It exists purely for interactive
// debugging (see DebugMonitorHandler) and is never consulted by the
// protocol itself.
type MonitorPacket struct {
	In     bool
	Remote netip.AddrPort
	Option wire.SendOption
	Data   []byte
}

// Monitor streams every framed datagram the listener sees (in both
// directions, across all peers) to c until ctx is done. c is closed on
// return.
func (l *Listener) Monitor(ctx context.Context, c chan MonitorPacket) {
	l.monitorMu.Lock()
	if l.monitorSubs == nil {
		l.monitorSubs = make(map[chan MonitorPacket]struct{})
	}
	l.monitorSubs[c] = struct{}{}
	l.monitorMu.Unlock()

	<-ctx.Done()

	l.monitorMu.Lock()
	delete(l.monitorSubs, c)
	l.monitorMu.Unlock()
	close(c)
}

func (l *Listener) publish(p MonitorPacket) {
	l.monitorMu.Lock()
	defer l.monitorMu.Unlock()
	for c := range l.monitorSubs {
		select {
		case c <- p:
		default:
		}
	}
}

// NewListener creates an unbound listener with the given tunables.
func NewListener(rt reliability.Tunables, kt keepalive.Tunables, minHandshakeVersion, maxConnections int) *Listener {
	return &Listener{
		peers:               make(map[netip.AddrPort]*Connection),
		reliabilityTunables: rt,
		keepAliveTunables:   kt,
		minHandshakeVersion: minHandshakeVersion,
		maxConnections:      maxConnections,
	}
}

// ListenAndServe binds addr and calls Serve.
func (l *Listener) ListenAndServe(addr netip.AddrPort) error {
	conn, err := listenUDP(addr.String(), l.ReusePort)
	if err != nil {
		return err
	}
	return l.Serve(conn)
}

// Serve reads datagrams from conn until Close is called or a read fails.
// It also runs the 100ms tick loop across all admitted peers.
func (l *Listener) Serve(conn udpSocket) error {
	l.mu.Lock()
	l.conn = conn
	l.closing = false
	l.stop = make(chan struct{})
	stop := l.stop
	l.mu.Unlock()

	go l.tickLoop(stop)
	defer conn.Close()

	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			l.mu.Lock()
			wasClosing := l.closing
			l.conn = nil
			l.mu.Unlock()
			if wasClosing {
				return ErrListenerClosed
			}
			return err
		}
		l.handleDatagram(addr, buf[:n], time.Now())
	}
}

func (l *Listener) tickLoop(stop chan struct{}) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			l.tick(now)
		}
	}
}

func (l *Listener) tick(now time.Time) {
	l.mu.Lock()
	conns := make([]*Connection, 0, len(l.peers))
	for _, c := range l.peers {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		c.Tick(now)
	}
}

// handleDatagram implements the server side of spec.md §4.5: known peers are
// routed straight to their Connection; unknown remotes are ignored unless
// the datagram looks like a Hello, in which case the admission gate runs.
func (l *Listener) handleDatagram(remote netip.AddrPort, data []byte, now time.Time) {
	if len(data) > 0 {
		l.publish(MonitorPacket{In: true, Remote: remote, Option: wire.SendOption(data[0]), Data: append([]byte(nil), data...)})
	}

	l.mu.Lock()
	c, known := l.peers[remote]
	l.mu.Unlock()

	if known {
		c.HandleDatagram(data, now)
		if c.State() == NotConnected {
			l.mu.Lock()
			delete(l.peers, remote)
			l.mu.Unlock()
		}
		return
	}

	if len(data) < 4 || wire.SendOption(data[0]) != wire.Hello {
		return // unknown peer, not a hello: ignored
	}
	if int(data[3]) < l.minHandshakeVersion {
		return // hello version byte older than the configured minimum: dropped
	}

	send := func(b []byte) error {
		if len(b) > 0 {
			l.publish(MonitorPacket{In: false, Remote: remote, Option: wire.SendOption(b[0]), Data: append([]byte(nil), b...)})
		}
		_, err := l.conn.WriteToUDPAddrPort(b, remote)
		return err
	}

	handshakePayload := data[4:]
	if l.OnConnectionInit != nil {
		if payload, ok := l.OnConnectionInit(remote, handshakePayload); !ok {
			if payload != nil {
				frame := make([]byte, 1+len(payload))
				frame[0] = byte(wire.Disconnect)
				copy(frame[1:], payload)
				_ = send(frame)
			}
			return
		}
	}

	l.mu.Lock()
	if l.maxConnections >= 0 && len(l.peers) >= l.maxConnections {
		l.mu.Unlock()
		return
	}
	conn := NewConnection(send, l.reliabilityTunables, l.keepAliveTunables, l.minHandshakeVersion)
	conn.acceptServerSide(now)
	conn.OnDisconnected = func(*wire.Buffer, DisconnectReason) {
		l.mu.Lock()
		delete(l.peers, remote)
		l.mu.Unlock()
	}
	l.mu.Unlock()

	// conn is still unreachable from the tick loop and from any other
	// datagram here: it isn't in l.peers yet. OnNewConnection (which may
	// rewrap conn.OnDisconnected/OnInternalDisconnect as plain field
	// writes) must finish before other goroutines can reach conn.
	if l.OnNewConnection != nil {
		l.OnNewConnection(remote, conn, handshakePayload)
	}

	l.mu.Lock()
	l.peers[remote] = conn
	l.mu.Unlock()

	conn.HandleDatagram(data, now)
}

// Peers returns the currently admitted remote addresses.
func (l *Listener) Peers() []netip.AddrPort {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]netip.AddrPort, 0, len(l.peers))
	for a := range l.peers {
		out = append(out, a)
	}
	return out
}

// Close halts accepting, stops the tick loop, closes the socket, and closes
// every admitted peer's connection without firing their OnDisconnected.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.conn != nil {
		l.closing = true
		l.conn.Close()
	}
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
	peers := l.peers
	l.peers = make(map[netip.AddrPort]*Connection)
	l.mu.Unlock()

	for _, c := range peers {
		c.Close()
	}
}
