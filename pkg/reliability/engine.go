// Package reliability implements per-connection reliable delivery: reliable
// ID allocation, a retransmit queue with adaptive timeouts, cumulative
// acknowledgement with a sliding "recent" bitmask, novelty classification
// across the 16-bit ID space, and an RTT moving average.
//
// An Engine is owned entirely by the connection that holds it; nothing here
// takes a lock, matching the single-logical-executor-per-connection model
// the transport requires (see the connection reactor in pkg/transport).
package reliability

import (
	"math"
	"time"
)

// DisconnectReason enumerates the ways the reliability engine can decide a
// connection is no longer viable.
type DisconnectReason string

const (
	ReasonReliableWithoutResponse DisconnectReason = "reliable_packet_without_response"
	ReasonSocketSendFailure       DisconnectReason = "connection_disconnected"
)

const (
	initialLastReceivedID = 0xFFFF
	initialAvgPingMS      = 500.0
	minAvgPingMS          = 50.0

	defaultResendPingMultiplier = 2.0
	defaultDisconnectTimeoutMS  = 5000.0
	defaultAdaptiveCapMS        = 300.0
	defaultRetransmitCapMS      = 1000.0
)

// Tunables mirrors the per-connection knobs in spec.md §6.
type Tunables struct {
	ResendTimeoutMS      float64 // 0 = adaptive from avg RTT
	ResendLimit          int     // 0 = unlimited
	ResendPingMultiplier float64 // default 2.0
	DisconnectTimeoutMS  float64 // default 5000
}

// DefaultTunables returns the spec's default tunable values.
func DefaultTunables() Tunables {
	return Tunables{
		ResendPingMultiplier: defaultResendPingMultiplier,
		DisconnectTimeoutMS:  defaultDisconnectTimeoutMS,
	}
}

func (t Tunables) multiplier() float64 {
	if t.ResendPingMultiplier <= 0 {
		return defaultResendPingMultiplier
	}
	return t.ResendPingMultiplier
}

func (t Tunables) disconnectTimeoutMS() float64 {
	if t.DisconnectTimeoutMS <= 0 {
		return defaultDisconnectTimeoutMS
	}
	return t.DisconnectTimeoutMS
}

// outstanding is an unacknowledged reliable packet.
type outstanding struct {
	id              uint16
	data            []byte
	firstSent       time.Time
	lastAction      time.Time
	nextTimeoutMS   float64
	retransmissions int
	ackCallback     func()
}

// Engine holds one connection's reliability state.
type Engine struct {
	Tunables Tunables

	nextID uint16

	outstanding map[uint16]*outstanding

	lastReceivedID uint16
	missingIDs     map[uint16]struct{}

	avgPingMS float64
}

// NewEngine creates a fresh engine with the spec's default initial state.
func NewEngine(t Tunables) *Engine {
	e := &Engine{
		Tunables:    t,
		outstanding: make(map[uint16]*outstanding),
		missingIDs:  make(map[uint16]struct{}),
	}
	e.Reset()
	return e
}

// Reset clears all outstanding/missing state and restores initial defaults,
// as done on connection close.
func (e *Engine) Reset() {
	e.outstanding = make(map[uint16]*outstanding)
	e.missingIDs = make(map[uint16]struct{})
	e.lastReceivedID = initialLastReceivedID
	e.avgPingMS = initialAvgPingMS
	e.nextID = 0
}

// NextReliableID post-increments the 16-bit allocation counter, wrapping at
// 65535->0.
func (e *Engine) NextReliableID() uint16 {
	id := e.nextID
	e.nextID++
	return id
}

// AvgPingMS returns the current RTT moving average.
func (e *Engine) AvgPingMS() float64 { return e.avgPingMS }

// OutstandingCount returns the number of unacknowledged reliable packets.
func (e *Engine) OutstandingCount() int { return len(e.outstanding) }

func (e *Engine) resendTimeoutMS() float64 {
	if e.Tunables.ResendTimeoutMS > 0 {
		return e.Tunables.ResendTimeoutMS
	}
	v := e.avgPingMS * e.Tunables.multiplier()
	if v > defaultAdaptiveCapMS {
		v = defaultAdaptiveCapMS
	}
	return v
}

// TrackOutbound records a newly-sent reliable/hello/ping packet. data must
// already carry the header byte and the 2-byte big-endian ID at bytes[1:3].
func (e *Engine) TrackOutbound(id uint16, data []byte, now time.Time, ackCallback func()) {
	e.outstanding[id] = &outstanding{
		id:            id,
		data:          data,
		firstSent:     now,
		lastAction:    now,
		nextTimeoutMS: e.resendTimeoutMS(),
		ackCallback:   ackCallback,
	}
}

// RetransmitResult reports the outcome of a Tick pass.
type RetransmitResult struct {
	Disconnected bool
	Reason       DisconnectReason
	Detail       string
}

// Tick runs one retransmission pass: packets whose total age exceeds the
// disconnect timeout kill the connection; packets whose last-action age
// exceeds their current backoff are retransmitted with an escalated
// timeout. send is called once per retransmitted packet; a returned error
// is treated as a socket failure and also terminates the connection.
func (e *Engine) Tick(now time.Time, send func([]byte) error) RetransmitResult {
	disconnectTimeout := e.Tunables.disconnectTimeoutMS()
	mult := e.Tunables.multiplier()

	// Stable iteration order isn't required for correctness (each packet is
	// independent), so a plain map range is fine here.
	for id, p := range e.outstanding {
		age := now.Sub(p.firstSent).Seconds() * 1000
		if age >= disconnectTimeout {
			delete(e.outstanding, id)
			return RetransmitResult{Disconnected: true, Reason: ReasonReliableWithoutResponse, Detail: "reliable packet without response"}
		}

		since := now.Sub(p.lastAction).Seconds() * 1000
		if since < p.nextTimeoutMS {
			continue
		}

		p.retransmissions++
		if e.Tunables.ResendLimit != 0 && p.retransmissions > e.Tunables.ResendLimit {
			delete(e.outstanding, id)
			return RetransmitResult{Disconnected: true, Reason: ReasonReliableWithoutResponse, Detail: "reliable packet without response"}
		}

		p.nextTimeoutMS = math.Min(p.nextTimeoutMS*mult, defaultRetransmitCapMS)
		p.lastAction = now

		if err := send(p.data); err != nil {
			return RetransmitResult{Disconnected: true, Reason: ReasonSocketSendFailure, Detail: err.Error()}
		}
	}
	return RetransmitResult{}
}

// overwritePointer returns W = (L - 32768) mod 2^16.
func overwritePointer(l uint16) uint16 {
	return uint16(int(l) - 32768)
}

// IsNovel reports whether id falls inside the 32768-wide forward window
// from the current last-received ID, without mutating any state.
func (e *Engine) IsNovel(id uint16) bool {
	l := e.lastReceivedID
	w := overwritePointer(l)
	if w < l {
		return id > l || id <= w
	}
	return id > l && id <= w
}

// ClassifyInbound applies the novelty algorithm (spec §4.2 steps 2-4) to an
// inbound reliable/hello/ping ID, updating last-received and the missing-ID
// set. It returns (novel, duplicate): novel is true for a new or recovered
// ID (i.e. the packet should be delivered); duplicate is true only when the
// ID was neither new nor a recovered miss (i.e. it should be silently
// dropped).
func (e *Engine) ClassifyInbound(id uint16) (novel, duplicate bool) {
	if e.IsNovel(id) {
		for cur := e.lastReceivedID + 1; cur != id; cur++ {
			e.missingIDs[cur] = struct{}{}
		}
		e.lastReceivedID = id
		return true, false
	}
	if _, wasMissing := e.missingIDs[id]; wasMissing {
		delete(e.missingIDs, id)
		return true, false
	}
	return false, true
}

// BuildAckMask computes the 8-bit recent-bitmask for an ack of id: bit i is
// set iff (id-(i+1)) mod 2^16 is not in the missing set.
func (e *Engine) BuildAckMask(id uint16) byte {
	var mask byte
	for i := uint16(0); i < 8; i++ {
		prior := id - (i + 1)
		if _, missing := e.missingIDs[prior]; !missing {
			mask |= 1 << i
		}
	}
	return mask
}

// HandleAck processes an inbound ack for id (and, via mask, the eight IDs
// preceding it), removing matching outstanding entries and folding RTT
// samples into the moving average. It reports whether id itself matched an
// outstanding entry (used by callers to detect hello/ping acks).
func (e *Engine) HandleAck(id uint16, mask byte, hasMask bool, now time.Time) (ackedSelf bool) {
	ackedSelf = e.ackOne(id, now)
	if hasMask {
		for i := uint16(0); i < 8; i++ {
			if mask&(1<<i) != 0 {
				e.ackOne(id-(i+1), now)
			}
		}
	}
	return ackedSelf
}

func (e *Engine) ackOne(id uint16, now time.Time) bool {
	p, ok := e.outstanding[id]
	if !ok {
		return false
	}
	delete(e.outstanding, id)

	sampleMS := now.Sub(p.firstSent).Seconds() * 1000
	e.avgPingMS = math.Max(minAvgPingMS, 0.7*e.avgPingMS+0.3*sampleMS)

	if p.ackCallback != nil {
		p.ackCallback()
	}
	return true
}
