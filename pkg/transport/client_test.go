package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/wire"
)

func TestDialSucceedsAgainstRespondingPeer(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	go func() {
		buf := make([]byte, 64)
		n, addr, err := peer.ReadFromUDP(buf)
		if err != nil {
			return
		}
		hello := buf[:n]
		id := binary.BigEndian.Uint16(hello[1:3])
		ack := make([]byte, 4)
		ack[0] = byte(wire.Ack)
		binary.BigEndian.PutUint16(ack[1:3], id)
		peer.WriteToUDP(ack, addr)
	}()

	remote := peer.LocalAddr().(*net.UDPAddr).AddrPort()
	c, err := Dial(remote, []byte("hi"), 2*time.Second, reliability.DefaultTunables(), keepalive.DefaultTunables(), 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if c.State() != Connected {
		t.Fatalf("state = %s, want connected", c.State())
	}
}

func TestDialTimesOutAgainstSilentPeer(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	remote := peer.LocalAddr().(*net.UDPAddr).AddrPort()
	_, err = Dial(remote, nil, 100*time.Millisecond, reliability.DefaultTunables(), keepalive.DefaultTunables(), 0)
	if err == nil {
		t.Fatal("expected handshake timeout error")
	}
}
