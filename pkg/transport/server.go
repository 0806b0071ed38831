package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/netip"
	"strings"
	"time"

	"github.com/duskproto/duskproto/pkg/geoip"
	"github.com/duskproto/duskproto/pkg/journal"
	"github.com/duskproto/duskproto/pkg/keepalive"
	"github.com/duskproto/duskproto/pkg/metricsx"
	"github.com/duskproto/duskproto/pkg/reliability"
	"github.com/duskproto/duskproto/pkg/wire"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

// Server wires a Listener together with the ambient stack (logging,
// metrics, admission geolocation, and the disconnect journal) into a single
// runnable unit, the way pkg/atlas.Server wires api0.Handler together with
// its storage and logging. It owns the debug/metrics HTTP surface described
// by SPEC_FULL.md §6.1; that surface is never on the UDP data path.
type Server struct {
	Logger zerolog.Logger

	Listener *Listener
	Metrics  *metricsx.Transport
	Journal  *journal.DB
	GeoIP    *geoip.DB

	DebugAddr string

	reopenLog func()
	closed    bool
}

// NewServer builds a Server from c. c must already be populated (e.g. via
// Config.UnmarshalEnv). The journal and geoip database are opened here when
// their paths are set; either can be left unconfigured, in which case they
// act as no-op sinks.
func NewServer(c *Config) (*Server, error) {
	logger, reopen, err := configureLogging(c)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	var jr *journal.DB
	if c.JournalPath != "" {
		jr, err = journal.Open(c.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	var gdb geoip.DB
	geoEnabled := c.IP2Location != ""
	if geoEnabled {
		if err := gdb.Load(c.IP2Location); err != nil {
			return nil, fmt.Errorf("load ip2location database: %w", err)
		}
	}

	mx := metricsx.NewTransport(geoEnabled)

	rt := reliability.DefaultTunables()
	if c.ResendTimeoutMS > 0 {
		rt.ResendTimeoutMS = float64(c.ResendTimeoutMS)
	}
	if c.ResendLimit > 0 {
		rt.ResendLimit = c.ResendLimit
	}
	if c.ResendPingMultiplier > 0 {
		rt.ResendPingMultiplier = c.ResendPingMultiplier
	}
	if c.DisconnectTimeoutMS > 0 {
		rt.DisconnectTimeoutMS = float64(c.DisconnectTimeoutMS)
	}

	kt := keepalive.DefaultTunables()
	kt.IntervalMS = float64(c.KeepAliveIntervalMS) // <= 0 disables keep-alive
	if c.MissingPingsUntilDisconnect > 0 {
		kt.MissingPingsUntilDisconnect = c.MissingPingsUntilDisconnect
	}

	l := NewListener(rt, kt, c.MinimumHandshakeVersion, c.MaxConnections)
	l.ReusePort = c.ReusePort

	if c.MinimumProtocolVersion != "" {
		minVer := "v" + strings.TrimPrefix(c.MinimumProtocolVersion, "v")
		if !semver.IsValid(minVer) {
			return nil, fmt.Errorf("invalid minimum protocol version semver %q", c.MinimumProtocolVersion)
		}
		l.OnConnectionInit = func(remote netip.AddrPort, helloPayload []byte) ([]byte, bool) {
			ver := "v" + strings.TrimPrefix(strings.TrimSpace(string(helloPayload)), "v")
			if !semver.IsValid(ver) || semver.Compare(ver, minVer) < 0 {
				mx.ConnectionsRejected.Inc()
				return []byte("protocol version too old"), false
			}
			return nil, true
		}
	}

	s := &Server{
		Logger:    logger,
		Listener:  l,
		Metrics:   mx,
		Journal:   jr,
		GeoIP:     &gdb,
		DebugAddr: c.DebugAddr,
		reopenLog: reopen,
	}

	l.OnNewConnection = func(remote netip.AddrPort, conn *Connection, _ []byte) {
		if loc, ok := s.GeoIP.Lookup(remote.Addr()); ok {
			s.Metrics.AdmissionAt(loc.Lat, loc.Lng, true)
		} else {
			s.Metrics.AdmissionUnresolved(remote)
		}
		s.Logger.Info().Stringer("remote", remote).Msg("connection admitted")

		cleanup := conn.OnDisconnected
		conn.OnDisconnected = func(buf *wire.Buffer, reason DisconnectReason) {
			if cleanup != nil {
				cleanup(buf, reason)
			}
			s.Metrics.DisconnectsGraceful.Inc()
			s.Logger.Info().Stringer("remote", remote).Str("reason", string(reason)).Msg("connection closed")
		}
		conn.OnInternalDisconnect = func(reason DisconnectReason) []byte {
			s.Metrics.DisconnectReason(string(reason))
			s.Logger.Warn().Stringer("remote", remote).Str("reason", string(reason)).Msg("connection lost")
			if s.Journal != nil {
				_ = s.Journal.RecordDisconnect(journal.Entry{
					Time:   time.Now(),
					Remote: remote,
					Reason: string(reason),
				})
			}
			return nil
		}
	}

	return s, nil
}

// Run serves the UDP transport (and, if DebugAddr is set, the debug/metrics
// HTTP surface) until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr netip.AddrPort) error {
	if s.closed {
		return fmt.Errorf("transport: server already closed")
	}

	if s.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		mux.HandleFunc("/metrics", s.serveMetrics)
		mux.Handle("/debug/duskproto", DebugMonitorHandler(s.Listener))

		hs := &http.Server{Addr: s.DebugAddr, Handler: mux}
		go func() {
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.Logger.Warn().Err(err).Msg("debug server exited")
			}
		}()
		go func() {
			<-ctx.Done()
			hs.Close()
		}()
	}

	errch := make(chan error, 1)
	go func() { errch <- s.Listener.ListenAndServe(addr) }()

	select {
	case <-ctx.Done():
		s.closed = true
		s.Listener.Close()
		return nil
	case err := <-errch:
		return err
	}
}

// serveMetrics writes the Prometheus text exposition for s, gzip-encoding
// the body when the client advertises support for it.
func (s *Server) serveMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		s.Metrics.Set.WritePrometheus(gz)
		return
	}
	s.Metrics.Set.WritePrometheus(w)
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range r.Header.Values("Accept-Encoding") {
		for _, tok := range strings.Split(enc, ",") {
			if strings.TrimSpace(tok) == "gzip" {
				return true
			}
		}
	}
	return false
}

// HandleSIGHUP reopens the log file (if configured) and reloads the
// IP2Location database in place, without disrupting admitted connections.
func (s *Server) HandleSIGHUP() {
	if s.reopenLog != nil {
		s.reopenLog()
	}
	if s.GeoIP.Loaded() {
		if err := s.GeoIP.Load(""); err != nil {
			s.Logger.Warn().Err(err).Msg("failed to reload ip2location database")
		}
	}
}
