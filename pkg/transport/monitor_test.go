package transport

import (
	"context"
	"testing"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/wire"
)

func TestMonitorObservesInboundHello(t *testing.T) {
	l := NewListener(reliability.DefaultTunables(), keepalive.DefaultTunables(), 0, -1)
	w := &fakeWire{}
	l.conn = &fakeUDPSocket{sent: w}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan MonitorPacket, 4)
	go l.Monitor(ctx, ch)
	time.Sleep(10 * time.Millisecond) // let Monitor register before the datagram fires

	l.handleDatagram(testRemote, helloFrame(1, nil), time.Now())

	select {
	case p := <-ch:
		if !p.In || p.Remote != testRemote || p.Option != wire.Hello {
			t.Fatalf("unexpected monitor packet: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatalf("monitor never observed the inbound hello")
	}
}
