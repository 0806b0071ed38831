// Package transport ties the framing, reliability, and keep-alive engines
// together into a connection state machine and a server-side listener that
// demultiplexes inbound datagrams by remote address.
package transport

import (
	"fmt"
	"io/fs"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the configuration for a duskproto server. The env struct
// tag contains the environment variable name and the default value if
// missing, or empty (if not ?=).
type Config struct {
	// The address to listen on.
	Addr netip.AddrPort `env:"DUSKPROTO_ADDR=:0"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"DUSKPROTO_LOG_LEVEL=debug"`

	// Whether to log to stdout.
	LogStdout bool `env:"DUSKPROTO_LOG_STDOUT=true"`

	// Whether to use pretty logs.
	LogStdoutPretty bool `env:"DUSKPROTO_LOG_STDOUT_PRETTY=true"`

	// The minimum log level for stdout.
	LogStdoutLevel zerolog.Level `env:"DUSKPROTO_LOG_STDOUT_LEVEL=trace"`

	// The log file to output to, if provided. Reopened on SIGHUP.
	LogFile string `env:"DUSKPROTO_LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"DUSKPROTO_LOG_FILE_LEVEL=info"`

	// The permissions for the log file.
	LogFileChmod fs.FileMode `env:"DUSKPROTO_LOG_FILE_CHMOD"`

	// Whether to enable SO_REUSEPORT on the listening socket, allowing
	// multiple processes to share the port.
	ReusePort bool `env:"DUSKPROTO_REUSE_PORT"`

	// resend_timeout_ms: 0 means adaptive from average RTT.
	ResendTimeoutMS int `env:"DUSKPROTO_RESEND_TIMEOUT_MS=0"`

	// resend_limit: 0 means unlimited retransmissions.
	ResendLimit int `env:"DUSKPROTO_RESEND_LIMIT=0"`

	// resend_ping_multiplier applied to the adaptive RTT estimate on each
	// retransmission.
	ResendPingMultiplier float64 `env:"DUSKPROTO_RESEND_PING_MULTIPLIER=2.0"`

	// disconnect_timeout_ms: total elapsed time a reliable packet may remain
	// unacknowledged before the connection is torn down.
	DisconnectTimeoutMS int `env:"DUSKPROTO_DISCONNECT_TIMEOUT_MS=5000"`

	// keep_alive_interval_ms: 0 disables keep-alive pings entirely.
	KeepAliveIntervalMS int `env:"DUSKPROTO_KEEP_ALIVE_INTERVAL_MS=1500"`

	// missing_pings_until_disconnect before a silent peer is dropped.
	MissingPingsUntilDisconnect int `env:"DUSKPROTO_MISSING_PINGS_UNTIL_DISCONNECT=6"`

	// The maximum number of concurrent connections the server listener will
	// admit. -1 disables the limit.
	MaxConnections int `env:"DUSKPROTO_MAX_CONNECTIONS=4096"`

	// Minimum handshake version to admit; hellos from unknown peers whose
	// version byte is older are dropped before OnConnectionInit runs.
	MinimumHandshakeVersion int `env:"DUSKPROTO_MINIMUM_HANDSHAKE_VERSION=0"`

	// The path to the IP2Location database used for admission geo metrics.
	// If not provided, geo metrics are disabled.
	IP2Location string `env:"DUSKPROTO_IP2LOCATION"`

	// The path to a sqlite3 database used to journal ungraceful disconnects.
	// If not provided, the journal is disabled.
	JournalPath string `env:"DUSKPROTO_JOURNAL_PATH"`

	// The address to serve /metrics and /debug/pprof on. If empty, the debug
	// server is not started.
	DebugAddr string `env:"DUSKPROTO_DEBUG_ADDR"`

	// The minimum application-protocol semver (e.g. "v1.2.0") a client must
	// advertise in its hello payload to be admitted. Empty disables this
	// gate; handshake payloads that aren't valid semver are always rejected
	// once a minimum is configured.
	MinimumProtocolVersion string `env:"DUSKPROTO_MINIMUM_PROTOCOL_VERSION"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "DUSKPROTO_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case float64:
			if val == "" {
				cvf.SetFloat(0)
			} else if v, err := strconv.ParseFloat(val, 64); err == nil {
				cvf.SetFloat(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case fs.FileMode:
			if val == "" {
				cvf.Set(reflect.ValueOf(fs.FileMode(0)))
			} else if v, err := strconv.ParseUint(val, 8, 32); err == nil {
				cvf.Set(reflect.ValueOf(fs.FileMode(v)))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case netip.AddrPort:
			if val == "" {
				cvf.Set(reflect.ValueOf(netip.AddrPort{}))
			} else if v, err := netip.ParseAddrPort(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else if v, err1 := netip.ParseAddrPort("[::]" + val); val[0] == ':' && err1 == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
