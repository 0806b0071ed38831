package metricsx

import (
	"net/netip"

	"github.com/VictoriaMetrics/metrics"
)

// Transport is the counter set a duskproto listener reports: datagram
// accounting, reliability outcomes, keep-alive pings, and admission
// geolocation. All counters live in a dedicated *metrics.Set so a listener
// can be stood up more than once per process (e.g. in tests) without
// colliding on the default global registry.
//
// pkg/transport's Server increments ConnectionsAdmitted, ConnectionsRejected,
// DisconnectsGraceful, DisconnectsByReason and the admission geo counter.
// HandshakeTimeouts, ReliableDelivered, Duplicates, Retransmits, AcksSent,
// AcksReceived and KeepAlivePingsSent are registered and exported, but
// nothing in pkg/transport increments them.
type Transport struct {
	Set *metrics.Set

	ConnectionsAdmitted   *metrics.Counter
	ConnectionsRejected   *metrics.Counter
	HandshakeTimeouts     *metrics.Counter
	ReliableDelivered     *metrics.Counter
	Duplicates            *metrics.Counter
	Retransmits           *metrics.Counter
	AcksSent              *metrics.Counter
	AcksReceived          *metrics.Counter
	KeepAlivePingsSent    *metrics.Counter
	DisconnectsGraceful   *metrics.Counter
	DisconnectsByReason   map[string]*metrics.Counter

	admissionGeo *GeoCounter
}

// NewTransport creates a fresh, independently-scoped counter set. If
// geoEnabled is false (no IP2Location database loaded), admission geo
// metrics are skipped entirely rather than reported as all-unknown.
func NewTransport(geoEnabled bool) *Transport {
	set := metrics.NewSet()
	t := &Transport{
		Set:                 set,
		ConnectionsAdmitted: set.NewCounter(`duskproto_connections_admitted_total`),
		ConnectionsRejected: set.NewCounter(`duskproto_connections_rejected_total`),
		HandshakeTimeouts:   set.NewCounter(`duskproto_handshake_timeouts_total`),
		ReliableDelivered:   set.NewCounter(`duskproto_reliable_delivered_total`),
		Duplicates:          set.NewCounter(`duskproto_duplicates_total`),
		Retransmits:         set.NewCounter(`duskproto_retransmits_total`),
		AcksSent:            set.NewCounter(`duskproto_acks_sent_total`),
		AcksReceived:        set.NewCounter(`duskproto_acks_received_total`),
		KeepAlivePingsSent:  set.NewCounter(`duskproto_keepalive_pings_sent_total`),
		DisconnectsGraceful: set.NewCounter(`duskproto_disconnects_graceful_total`),
		DisconnectsByReason: make(map[string]*metrics.Counter),
	}
	if geoEnabled {
		t.admissionGeo = NewGeoCounter(set, `duskproto_admissions_geohash`, 3)
	}
	return t
}

// DisconnectReason increments the disconnect counter for the given reason
// string, creating it lazily on first use (the reason set is small and
// fixed by pkg/transport's DisconnectReason type, so this never grows
// unbounded).
func (t *Transport) DisconnectReason(reason string) {
	c, ok := t.DisconnectsByReason[reason]
	if !ok {
		c = t.Set.NewCounter(`duskproto_disconnects_total{reason="` + reason + `"}`)
		t.DisconnectsByReason[reason] = c
	}
	c.Inc()
}

// AdmissionAt records an admitted connection's location for the geo
// breakdown, or the unknown bucket if the lookup failed. If geo metrics are
// disabled, only ConnectionsAdmitted is incremented.
func (t *Transport) AdmissionAt(lat, lng float64, ok bool) {
	t.ConnectionsAdmitted.Inc()
	if t.admissionGeo == nil {
		return
	}
	if ok {
		t.admissionGeo.Inc(lat, lng)
	} else {
		t.admissionGeo.IncUnknown()
	}
}

// AdmissionUnresolved is a convenience for admitted connections where no
// remote-address lookup was attempted at all.
func (t *Transport) AdmissionUnresolved(addr netip.AddrPort) {
	t.ConnectionsAdmitted.Inc()
	if t.admissionGeo != nil {
		t.admissionGeo.IncUnknown()
	}
}
