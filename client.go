// Package tws is the public surface of the IB TWS message-bus core
// (spec.md §6): Client wraps a bus.MessageBus and hands callers typed
// Subscriptions built through reqhelpers on top of it.
//
// Grounded on xendarboh-katzenpost/client2/thin.go's ThinClient: a thin
// constructor (New) plus a Dial-equivalent (Connect) that a caller
// drives explicitly, rather than connecting inside the constructor.
package tws

import (
	"context"
	"os"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/ibapi-go/tws/bus"
	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/reqhelpers"
	"github.com/ibapi-go/tws/subscription"
	"github.com/ibapi-go/tws/wire"
)

// Client is the library entry point. It owns one MessageBus, which in
// turn owns one Connection and one Router.
type Client struct {
	bus *bus.MessageBus
}

// Config configures a Client. Endpoint is a host:port string; no
// default is hard-coded (spec.md §6) — callers pass 127.0.0.1:4002 for
// paper trading or 127.0.0.1:4001 for live.
type Config = bus.Config

// DefaultVersionMin and DefaultVersionMax bound the version range the
// handshake offers when Config leaves them zero.
const (
	DefaultVersionMin = 100
	DefaultVersionMax = 176
)

// New constructs a Client without connecting. Call Connect to dial.
func New(cfg Config) (*Client, error) {
	if cfg.VersionMin == 0 {
		cfg.VersionMin = DefaultVersionMin
	}
	if cfg.VersionMax == 0 {
		cfg.VersionMax = DefaultVersionMax
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "ibapi",
	})
	b, err := bus.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{bus: b}, nil
}

// Connect dials the gateway and performs the handshake, blocking until
// the first attempt resolves (success or permanent failure).
func (c *Client) Connect(ctx context.Context) error {
	return c.bus.Connect(ctx)
}

// Shutdown tears the connection down permanently; every live
// subscription observes a terminal ConnectionReset.
func (c *Client) Shutdown() { c.bus.Shutdown() }

// ServerVersion returns the negotiated server version (0 before connect).
func (c *Client) ServerVersion() int32 { return c.bus.ServerVersion() }

// IsConnected reports whether the Client is in the Connected state.
func (c *Client) IsConnected() bool { return c.bus.IsConnected() }

// NextRequestID allocates and returns the next request id.
func (c *Client) NextRequestID() int32 { return c.bus.NextRequestID() }

// NextValidOrderID allocates and returns the next order id.
func (c *Client) NextValidOrderID() int32 { return c.bus.NextOrderID() }

// Logger returns the Client's logger, for a caller to attach a prefixed
// sub-logger per subsystem.
func (c *Client) Logger() *log.Logger { return c.bus.Logger() }

// Bus exposes the underlying MessageBus for request helpers and custom
// domain encoders/decoders that need the raw builder surface
// (spec.md §1: per-domain codecs are opaque collaborators plugged in
// here, not part of the core).
func (c *Client) Bus() *bus.MessageBus { return c.bus }

// ServerTime implements spec.md §8 scenario 2: a one-shot request/reply
// by id, encoding outgoing code 49 with the allocated request id and
// decoding the unix-seconds reply.
func (c *Client) ServerTime() (int64, error) {
	encode := func(reqID int32) wire.Frame {
		return wire.NewFrame(strconv.Itoa(protocol.OutReqCurrentTime), strconv.Itoa(int(reqID)))
	}
	return reqhelpers.OneShot(c.bus, "", encode, protocol.DecodeServerTime, nil)
}

// Positions implements spec.md §8 scenario 6: a shared-class
// subscription with no per-request id. Every call returns an
// independent subscriber; both receive every frame.
func (c *Client) Positions() (*subscription.Subscription[protocol.Position], error) {
	if err := reqhelpers.VersionGate(c.bus, protocol.FeaturePositions); err != nil {
		return nil, err
	}
	sub, err := reqhelpers.StreamShared(c.bus, protocol.ClassPosition, protocol.DecodePosition)
	if err != nil {
		return nil, err
	}
	// Subscribe before triggering the stream so no frame sent between the
	// two can be missed; reqPositions is idempotent, safe to re-send per
	// additional subscriber.
	if err := c.bus.SubmitRaw(wire.NewFrame(strconv.Itoa(protocol.OutReqPositions))); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// CancelPositions stops receiving Position frames; the Subscription's
// own Close does this too, but CancelPositions also submits the
// server-side cancel frame directly for callers that only want that
// side effect (spec.md §4.F best-effort cancel).
func (c *Client) CancelPositions() error {
	return c.bus.SubmitRaw(wire.NewFrame(strconv.Itoa(protocol.OutCancelPositions)))
}
