package transport

import (
	"net/netip"
	"testing"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/wire"
)

var testRemote = netip.MustParseAddrPort("127.0.0.1:40000")

func helloFrame(id uint16, payload []byte) []byte {
	buf := wire.NewBufferWithSendOption(wire.Hello, 4+len(payload))
	buf.WriteByte(helloVersion)
	buf.WriteBytes(payload)
	data := buf.Bytes()
	stampID(data, id)
	return data
}

func TestListenerAdmitsNewPeerOnHello(t *testing.T) {
	l := NewListener(reliability.DefaultTunables(), keepalive.DefaultTunables(), 0, -1)
	w := &fakeWire{}
	l.conn = &fakeUDPSocket{sent: w}

	var gotRemote netip.AddrPort
	var gotPayload []byte
	l.OnNewConnection = func(remote netip.AddrPort, conn *Connection, payload []byte) {
		gotRemote = remote
		gotPayload = append([]byte(nil), payload...)
	}

	l.handleDatagram(testRemote, helloFrame(0, []byte("hi")), time.Now())

	if gotRemote != testRemote {
		t.Fatalf("OnNewConnection remote = %v, want %v", gotRemote, testRemote)
	}
	if string(gotPayload) != "hi" {
		t.Fatalf("handshake payload = %q", gotPayload)
	}
	if peers := l.Peers(); len(peers) != 1 || peers[0] != testRemote {
		t.Fatalf("peers = %v", peers)
	}
	if len(w.out) != 1 || wire.SendOption(w.out[0][0]) != wire.Ack {
		t.Fatalf("expected hello ack sent, got %v", w.out)
	}
}

func TestListenerIgnoresUnknownNonHello(t *testing.T) {
	l := NewListener(reliability.DefaultTunables(), keepalive.DefaultTunables(), 0, -1)
	w := &fakeWire{}
	l.conn = &fakeUDPSocket{sent: w}

	l.handleDatagram(testRemote, []byte{byte(wire.Unreliable), 'x'}, time.Now())

	if peers := l.Peers(); len(peers) != 0 {
		t.Fatalf("expected no admitted peer, got %v", peers)
	}
	if len(w.out) != 0 {
		t.Fatalf("expected no response sent, got %v", w.out)
	}
}

func TestListenerAdmissionGateRejects(t *testing.T) {
	l := NewListener(reliability.DefaultTunables(), keepalive.DefaultTunables(), 0, -1)
	w := &fakeWire{}
	l.conn = &fakeUDPSocket{sent: w}
	l.OnConnectionInit = func(remote netip.AddrPort, payload []byte) ([]byte, bool) {
		return []byte("go away"), false
	}

	l.handleDatagram(testRemote, helloFrame(0, nil), time.Now())

	if peers := l.Peers(); len(peers) != 0 {
		t.Fatalf("rejected peer should not be admitted, got %v", peers)
	}
	if len(w.out) != 1 || wire.SendOption(w.out[0][0]) != wire.Disconnect {
		t.Fatalf("expected rejection disconnect sent, got %v", w.out)
	}
}

func TestListenerMaxConnectionsEnforced(t *testing.T) {
	l := NewListener(reliability.DefaultTunables(), keepalive.DefaultTunables(), 0, 1)
	w := &fakeWire{}
	l.conn = &fakeUDPSocket{sent: w}

	l.handleDatagram(testRemote, helloFrame(0, nil), time.Now())
	other := netip.MustParseAddrPort("127.0.0.1:40001")
	l.handleDatagram(other, helloFrame(0, nil), time.Now())

	if peers := l.Peers(); len(peers) != 1 {
		t.Fatalf("expected max_connections=1 to cap admission, got %v", peers)
	}
}

func TestListenerDropsPeerOnGracefulDisconnect(t *testing.T) {
	l := NewListener(reliability.DefaultTunables(), keepalive.DefaultTunables(), 0, -1)
	w := &fakeWire{}
	l.conn = &fakeUDPSocket{sent: w}
	l.handleDatagram(testRemote, helloFrame(0, nil), time.Now())

	l.handleDatagram(testRemote, []byte{byte(wire.Disconnect)}, time.Now())

	if peers := l.Peers(); len(peers) != 0 {
		t.Fatalf("expected peer removed after disconnect, got %v", peers)
	}
}

// fakeUDPSocket adapts a fakeWire (which only records outbound frames) to
// the udpSocket interface used by Listener.
type fakeUDPSocket struct {
	sent *fakeWire
}

func (f *fakeUDPSocket) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	select {}
}

func (f *fakeUDPSocket) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	return len(b), f.sent.send(b)
}

func (f *fakeUDPSocket) Close() error { return nil }
