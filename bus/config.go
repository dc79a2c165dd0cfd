package bus

import (
	"context"
	"net"
	"os"
	"time"
)

// apiPrefix is the fixed magic the client writes before the version
// range frame (spec.md §6).
const apiPrefix = "API\x00"

// startAPIVersion is the fixed version field START_API carries; it is
// not the negotiated server_version, it identifies the shape of the
// START_API frame itself.
const startAPIVersion = "2"

// DialFunc dials the gateway; overridable for tests (mirrors
// client2.Config.DialContextFn in the teacher).
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config configures a Connection.
type Config struct {
	// Endpoint is a host:port string; no default is hard-coded into the
	// core (spec.md §6 Endpoints) — callers choose paper (4002) or live (4001).
	Endpoint string
	ClientID int32

	VersionMin int
	VersionMax int

	HandshakeTimeout time.Duration
	DeliveryTimeout  time.Duration
	ChannelCapacity  int
	MaxFrameSize     int

	// MaxReconnectAttempts bounds the Fibonacci-backoff reconnect loop
	// (spec.md §4.C); 0 means use DefaultMaxReconnectAttempts.
	MaxReconnectAttempts int

	// MaxBackoff caps the Fibonacci reconnect delay (spec.md §4.C:
	// "1,2,3,5,8,13,21,... capped"); 0 means use DefaultMaxBackoff.
	MaxBackoff time.Duration

	// RecordingDir enables frame recording (spec.md §4.B, §6). If
	// empty, IBAPI_RECORDING_DIR is consulted.
	RecordingDir string

	// OnStateChange is called on every lifecycle transition; may be nil.
	OnStateChange func(State, error)

	DialFn DialFunc

	OptionalCapabilities string
}

// DefaultMaxReconnectAttempts is the default N in spec.md §4.C.
const DefaultMaxReconnectAttempts = 20

// DefaultHandshakeTimeout bounds the handshake exchange (spec.md §5).
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultMaxBackoff caps the Fibonacci reconnect delay at a few tens of
// seconds, keeping reconnects on the "a few seconds" scale spec.md's
// Lifecycles section assumes rather than the uncapped sequence's
// multi-hour tail by the time MaxReconnectAttempts is exhausted.
const DefaultMaxBackoff = 30 * time.Second

func (c *Config) withDefaults() Config {
	out := *c
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if out.MaxReconnectAttempts == 0 {
		out.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if out.MaxBackoff == 0 {
		out.MaxBackoff = DefaultMaxBackoff
	}
	if out.DialFn == nil {
		d := &net.Dialer{Timeout: out.HandshakeTimeout}
		out.DialFn = d.DialContext
	}
	if out.RecordingDir == "" {
		out.RecordingDir = os.Getenv("IBAPI_RECORDING_DIR")
	}
	return out
}
