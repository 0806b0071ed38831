package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/wire"
)

// State is a connection's position in the NotConnected -> Connecting ->
// Connected state machine. NotConnected is terminal: every disconnect or
// close from any other state lands here, and a second disconnect/close is a
// no-op.
type State int32

const (
	NotConnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// DisconnectReason is the error taxonomy surfaced through
// OnInternalDisconnect and as the reason passed to OnDisconnected.
type DisconnectReason string

const (
	ReasonSocketSendFailure               DisconnectReason = "socket_send_failure"
	ReasonSocketReceiveFailure            DisconnectReason = "socket_receive_failure"
	ReasonZeroBytesReceived               DisconnectReason = "zero_bytes_received"
	ReasonPingsWithoutResponse            DisconnectReason = "pings_without_response"
	ReasonReliablePacketWithoutResponse   DisconnectReason = "reliable_packet_without_response"
	ReasonConnectionDisconnected          DisconnectReason = "connection_disconnected"
	ReasonHandshakeTimeout                DisconnectReason = "handshake_timeout"
	ReasonRemoteDisconnectedDuringHandshake DisconnectReason = "remote_disconnected_during_handshake"
	ReasonGraceful                        DisconnectReason = "graceful"
)

// ErrInvalidArgument is the error value for the invalid_argument outcome.
// No function in this package returns it: Disconnect takes raw payload
// bytes, which carry no send option to check.
var ErrInvalidArgument = errors.New("transport: invalid argument")

// ErrNotConnected is returned by Send/SendBytes when the connection isn't
// in the Connected state.
var ErrNotConnected = errors.New("transport: not connected")

const helloVersion = 0

// Connection drives one peer's reliability, keep-alive, and handshake
// state. It owns no goroutine of its own, but a client's receive and tick
// loops (and, on a server, the listener's demux and shared tick loop) call
// into it from separate goroutines, so every entry point takes mu: the
// reliability and keep-alive engines it wraps still assume a single
// logical caller, and mu is what makes that true in practice. Callbacks
// (OnDataReceived, OnDisconnected, OnInternalDisconnect) run with mu held;
// they must not call back into the same Connection.
type Connection struct {
	mu sync.Mutex

	send func([]byte) error

	state State

	reliability *reliability.Engine
	keepalive   *keepalive.Engine

	minHandshakeVersion int

	// OnDataReceived is invoked for every application-level delivery
	// (Reliable, Unreliable, or Fragment-as-unreliable).
	OnDataReceived func(buf *wire.Buffer, option wire.SendOption)
	// OnDisconnected is invoked once, on a graceful local or remote
	// disconnect, with the peer's farewell payload (if any) and reason.
	OnDisconnected func(buf *wire.Buffer, reason DisconnectReason)
	// OnInternalDisconnect is invoked on an ungraceful teardown (socket
	// error, retransmit exhaustion, ping exhaustion); it may return an
	// optional farewell payload to send before the socket is abandoned.
	OnInternalDisconnect func(kind DisconnectReason) []byte

	handshakeDone chan error
}

// NewConnection creates a connection in NotConnected state. send transmits
// a fully-framed datagram to the peer (a closure over the owning socket and
// remote address).
func NewConnection(send func([]byte) error, rt reliability.Tunables, kt keepalive.Tunables, minHandshakeVersion int) *Connection {
	return &Connection{
		send:                send,
		state:               NotConnected,
		reliability:         reliability.NewEngine(rt),
		keepalive:           keepalive.NewEngine(kt, time.Now()),
		minHandshakeVersion: minHandshakeVersion,
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect begins the client handshake: it transmits a Hello frame carrying
// the protocol version and payload, and returns a channel that receives nil
// once the hello is acknowledged (-> Connected) or an error if the remote
// disconnects during the handshake. The caller is responsible for enforcing
// its own deadline (e.g. via time.After) and calling FailHandshakeTimeout
// if it elapses; the receive loop must keep calling HandleDatagram so the
// ack (or remote disconnect) can be observed.
func (c *Connection) Connect(payload []byte, now time.Time) (<-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != NotConnected {
		return nil, fmt.Errorf("transport: connect called in state %s", c.state)
	}
	c.state = Connecting
	c.handshakeDone = make(chan error, 1)

	id := c.reliability.NextReliableID()
	buf := wire.NewBufferWithSendOption(wire.Hello, 4+len(payload))
	buf.WriteByte(helloVersion)
	buf.WriteBytes(payload)
	stampID(buf.Bytes(), id)

	c.reliability.TrackOutbound(id, buf.Bytes(), now, func() {
		if c.state == Connecting {
			c.state = Connected
			select {
			case c.handshakeDone <- nil:
			default:
			}
		}
	})
	c.keepalive.Reset(now)

	if err := c.send(buf.Bytes()); err != nil {
		c.state = NotConnected
		return nil, fmt.Errorf("transport: send hello: %w", err)
	}
	return c.handshakeDone, nil
}

// FailHandshakeTimeout transitions a still-Connecting connection to
// NotConnected after the caller's deadline has elapsed.
func (c *Connection) FailHandshakeTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connecting {
		return
	}
	c.state = NotConnected
	c.reliability.Reset()
	if c.handshakeDone != nil {
		select {
		case c.handshakeDone <- fmt.Errorf("transport: %s", ReasonHandshakeTimeout):
		default:
		}
	}
}

// acceptServerSide puts a freshly-admitted server connection straight into
// Connected, as spec.md §4.5 requires ("a server-side connection is created
// already in Connected state").
func (c *Connection) acceptServerSide(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Connected
	c.keepalive.Reset(now)
}

// stampID writes id big-endian into bytes[1:3] of a Hello/Reliable/Ping
// frame.
func stampID(data []byte, id uint16) {
	binary.BigEndian.PutUint16(data[1:3], id)
}

func readID(data []byte) uint16 {
	return binary.BigEndian.Uint16(data[1:3])
}

// HandleDatagram routes one inbound datagram per the protocol dispatcher
// (spec.md §4.4). now is used for RTT sampling and retransmit bookkeeping.
func (c *Connection) HandleDatagram(data []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) == 0 {
		c.internalDisconnect(ReasonZeroBytesReceived, now)
		return
	}
	option := wire.SendOption(data[0])

	switch option {
	case wire.Reliable:
		if len(data) < 3 {
			return
		}
		id := readID(data)
		c.ackInbound(id, now)
		novel, _ := c.reliability.ClassifyInbound(id)
		if novel {
			c.deliverPayload(data[3:], wire.Reliable)
		}
	case wire.Hello, wire.Ping:
		if len(data) < 3 {
			return
		}
		id := readID(data)
		c.ackInbound(id, now)
		c.reliability.ClassifyInbound(id)
	case wire.Disconnect:
		c.handleRemoteDisconnect(data[1:], now)
	case wire.Ack:
		c.handleAck(data, now)
	case wire.Fragment:
		c.deliverPayload(data[1:], wire.Unreliable)
	default:
		c.deliverPayload(data[1:], wire.Unreliable)
	}
}

func (c *Connection) deliverPayload(payload []byte, option wire.SendOption) {
	if c.OnDataReceived == nil {
		return
	}
	c.OnDataReceived(wire.NewBufferFromBytes(payload), option)
}

// ackInbound sends the cumulative ack frame for id: [Ack][id_hi][id_lo][mask].
func (c *Connection) ackInbound(id uint16, now time.Time) {
	mask := c.reliability.BuildAckMask(id)
	ack := make([]byte, 4)
	ack[0] = byte(wire.Ack)
	binary.BigEndian.PutUint16(ack[1:3], id)
	ack[3] = mask
	// Ack sends whose transmission fails are swallowed (spec.md §7).
	_ = c.send(ack)
}

func (c *Connection) handleAck(data []byte, now time.Time) {
	if len(data) < 3 {
		return
	}
	id := readID(data)
	hasMask := len(data) >= 4
	var mask byte
	if hasMask {
		mask = data[3]
	}
	c.reliability.HandleAck(id, mask, hasMask, now)
	c.keepalive.Reset(now)
}

func (c *Connection) handleRemoteDisconnect(reason []byte, now time.Time) {
	if c.state == Connecting {
		if c.handshakeDone != nil {
			select {
			case c.handshakeDone <- fmt.Errorf("transport: %s", ReasonRemoteDisconnectedDuringHandshake):
			default:
			}
		}
	}
	c.state = NotConnected
	c.reliability.Reset()
	if c.OnDisconnected != nil {
		c.OnDisconnected(wire.NewBufferFromBytes(reason), ReasonGraceful)
	}
}

// Send transmits buf using its already-set send-option header, allocating
// and stamping a reliable ID first if the option is Reliable.
func (c *Connection) Send(buf *wire.Buffer, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return ErrNotConnected
	}
	opt, _ := buf.SendOption()
	data := buf.Bytes()
	if opt == wire.Reliable {
		id := c.reliability.NextReliableID()
		stampID(data, id)
		c.reliability.TrackOutbound(id, data, now, nil)
		c.keepalive.Reset(now)
	}
	return c.send(data)
}

// SendBytes frames raw application bytes under option and sends them.
func (c *Connection) SendBytes(payload []byte, option wire.SendOption, now time.Time) error {
	buf := wire.NewBufferWithSendOption(option, len(payload)+4)
	if err := buf.WriteBytes(payload); err != nil {
		return err
	}
	return c.Send(buf, now)
}

// Disconnect gracefully closes the connection: it sends an unreliable
// Disconnect datagram (optionally carrying reason), then transitions to
// NotConnected and fires OnDisconnected locally. reasonPayload is copied
// verbatim after the Disconnect header byte; it is not inspected, so no
// send-option check is made and no error is returned for it.
func (c *Connection) Disconnect(reasonPayload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == NotConnected {
		return nil
	}
	frame := make([]byte, 1+len(reasonPayload))
	frame[0] = byte(wire.Disconnect)
	copy(frame[1:], reasonPayload)
	// Best effort; a failed send doesn't block a graceful local teardown.
	_ = c.send(frame)

	c.state = NotConnected
	c.reliability.Reset()
	if c.OnDisconnected != nil {
		c.OnDisconnected(wire.NewBufferFromBytes(reasonPayload), ReasonGraceful)
	}
	return nil
}

// Close ungracefully tears the connection down without notifying the peer
// and without firing OnDisconnected.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == NotConnected {
		return
	}
	c.state = NotConnected
	c.reliability.Reset()
}

// HandleSocketFailure reports a failure of the caller's own socket read
// (distinct from a failure surfaced through a received datagram) as an
// internal disconnect.
func (c *Connection) HandleSocketFailure(reason DisconnectReason, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.internalDisconnect(reason, now)
}

// internalDisconnect handles a detected failure (socket error, retransmit
// or ping exhaustion): it consults OnInternalDisconnect for an optional
// farewell payload, best-effort sends it, then tears the connection down
// without firing OnDisconnected (spec.md: internal disconnects are
// ungraceful). Callers must hold mu.
func (c *Connection) internalDisconnect(reason DisconnectReason, now time.Time) {
	if c.state == NotConnected {
		return
	}
	var farewell []byte
	if c.OnInternalDisconnect != nil {
		farewell = c.OnInternalDisconnect(reason)
	}
	if farewell != nil {
		frame := make([]byte, 1+len(farewell))
		frame[0] = byte(wire.Disconnect)
		copy(frame[1:], farewell)
		_ = c.send(frame)
	}
	if c.state == Connecting && c.handshakeDone != nil {
		select {
		case c.handshakeDone <- fmt.Errorf("transport: %s", reason):
		default:
		}
	}
	c.state = NotConnected
	c.reliability.Reset()
}

// Tick runs the retransmit and keep-alive passes. Callers on a server drive
// this once per connection per listener tick; a client drives it on its own
// timer.
func (c *Connection) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return
	}

	res := c.reliability.Tick(now, c.send)
	if res.Disconnected {
		reason := ReasonReliablePacketWithoutResponse
		if res.Reason == reliability.ReasonSocketSendFailure {
			reason = ReasonSocketSendFailure
		}
		c.internalDisconnect(reason, now)
		return
	}

	kres := c.keepalive.Tick(now)
	if kres.Disconnected {
		c.internalDisconnect(ReasonPingsWithoutResponse, now)
		return
	}
	if kres.SendPing {
		id := c.reliability.NextReliableID()
		ping := make([]byte, 3)
		ping[0] = byte(wire.Ping)
		stampID(ping, id)
		c.reliability.TrackOutbound(id, ping, now, func() {
			c.keepalive.Reset(now)
		})
		if err := c.send(ping); err != nil {
			c.internalDisconnect(ReasonSocketSendFailure, now)
			return
		}
	}
}
