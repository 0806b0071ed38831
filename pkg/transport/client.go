package transport

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
)

// Client owns a bound UDP socket and the single Connection using it. Inbound
// datagrams are read on a receive-loop goroutine and the retransmit/
// keep-alive tick runs on a separate ticker goroutine; both call into the
// Connection, whose mutex serializes them. Handshake timeout detection
// happens in Dial itself.
type Client struct {
	conn *net.UDPConn
	*Connection

	stop chan struct{}
	done chan struct{}
}

// Dial binds an ephemeral socket toward remote (selecting the IP family
// from remote's address), sends the hello handshake carrying payload, and
// blocks until the hello is acknowledged, the remote disconnects during the
// handshake, or timeout elapses.
func Dial(remote netip.AddrPort, payload []byte, timeout time.Duration, rt reliability.Tunables, kt keepalive.Tunables, minHandshakeVersion int) (*Client, error) {
	udpConn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(remote))
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	c := &Client{
		conn: udpConn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.Connection = NewConnection(func(b []byte) error {
		_, err := udpConn.Write(b)
		return err
	}, rt, kt, minHandshakeVersion)

	now := time.Now()
	handshakeDone, err := c.Connect(payload, now)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	go c.receiveLoop()

	select {
	case err := <-handshakeDone:
		if err != nil {
			c.shutdown()
			return nil, err
		}
	case <-time.After(timeout):
		c.FailHandshakeTimeout()
		c.shutdown()
		return nil, fmt.Errorf("transport: %s", ReasonHandshakeTimeout)
	}

	go c.tickLoop()
	return c, nil
}

func (c *Client) receiveLoop() {
	defer close(c.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			c.HandleSocketFailure(ReasonSocketReceiveFailure, time.Now())
			return
		}
		c.HandleDatagram(buf[:n], time.Now())
		if c.State() == NotConnected {
			return
		}
	}
}

func (c *Client) tickLoop() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			c.Tick(now)
			if c.State() == NotConnected {
				return
			}
		}
	}
}

func (c *Client) shutdown() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.conn.Close()
}

// Close ungracefully tears down the client connection and its socket.
func (c *Client) Close() {
	c.Connection.Close()
	c.shutdown()
}

// DisconnectAndClose gracefully disconnects, then releases the socket.
func (c *Client) DisconnectAndClose(reasonPayload []byte) error {
	err := c.Connection.Disconnect(reasonPayload)
	c.shutdown()
	return err
}
