// Package keepalive implements the periodic ping that detects a silently
// dead peer: a restartable interval timer that, on fire, sends a reliable
// ping and counts unanswered pings toward a disconnect threshold.
//
// Like pkg/reliability, Engine is driven by Tick calls from the owning
// connection's reactor rather than by its own goroutine or OS timer.
package keepalive

import "time"

const (
	defaultIntervalMS                = 1500.0
	defaultMissingPingsUntilDisconnect = 6
)

// Tunables mirrors the keep-alive knobs in spec.md §6. IntervalMS <= 0
// disables keep-alive entirely (Tick becomes a no-op).
type Tunables struct {
	IntervalMS                  float64
	MissingPingsUntilDisconnect int
}

// DefaultTunables returns the spec's default keep-alive tunables.
func DefaultTunables() Tunables {
	return Tunables{
		IntervalMS:                  defaultIntervalMS,
		MissingPingsUntilDisconnect: defaultMissingPingsUntilDisconnect,
	}
}

func (t Tunables) missingPingsUntilDisconnect() int {
	if t.MissingPingsUntilDisconnect <= 0 {
		return defaultMissingPingsUntilDisconnect
	}
	return t.MissingPingsUntilDisconnect
}

// Engine tracks one connection's keep-alive state.
type Engine struct {
	Tunables Tunables

	nextFire      time.Time
	pingsSinceAck int
	armed         bool
}

// NewEngine creates an engine armed to fire one interval from now.
func NewEngine(t Tunables, now time.Time) *Engine {
	e := &Engine{Tunables: t}
	e.Reset(now)
	return e
}

// Reset restarts the interval timer from now and clears the miss counter.
// Called on connection establishment, on any outbound reliable send, and on
// any inbound ack (spec §4.3: "Any outbound reliable send or inbound ack
// resets the timer").
func (e *Engine) Reset(now time.Time) {
	e.pingsSinceAck = 0
	e.rearm(now)
}

func (e *Engine) rearm(now time.Time) {
	if e.Tunables.IntervalMS <= 0 {
		e.armed = false
		return
	}
	e.nextFire = now.Add(time.Duration(e.Tunables.IntervalMS * float64(time.Millisecond)))
	e.armed = true
}

// PingsSinceAck returns the number of pings sent since the last reset.
func (e *Engine) PingsSinceAck() int { return e.pingsSinceAck }

// Result reports the outcome of a Tick call.
type Result struct {
	// SendPing is true when the caller must allocate a reliable ID and send
	// a 3-byte Ping frame through the reliability engine's retransmit
	// tracking. Tick has already rearmed the interval and counted the ping;
	// calling Reset here would also clear that count, so the miss counter
	// is only cleared when an ack arrives.
	SendPing bool
	// Disconnected is true when pings_since_ack has reached the
	// missing-pings threshold; the connection must terminate with
	// "pings without response".
	Disconnected bool
}

// Tick checks whether the interval has elapsed. If the connection isn't
// Connected, callers simply should not call Tick (per spec §4.3: "if state
// != Connected, stop").
func (e *Engine) Tick(now time.Time) Result {
	if !e.armed || now.Before(e.nextFire) {
		return Result{}
	}
	if e.pingsSinceAck >= e.Tunables.missingPingsUntilDisconnect() {
		e.armed = false
		return Result{Disconnected: true}
	}
	e.pingsSinceAck++
	e.rearm(now)
	return Result{SendPing: true}
}
