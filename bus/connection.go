// Package bus implements the Connection (spec.md §4.C) and MessageBus
// (spec.md §4.E): the TCP socket, handshake, start-API negotiation,
// reconnect loop, and the public send/subscribe surface built on top of
// the router.
//
// Grounded on xendarboh-katzenpost/client2/connection.go: connectWorker
// and doConnect's dial-with-backoff loop, onTCPConn's handshake-then-hand-off
// shape, and onWireConn's single reader goroutine feeding a dispatch
// loop are the model this file generalizes from the mix-network Sphinx
// wire session to the NUL-delimited TWS frame wire.
package bus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ibapi-go/tws/internal/worker"
	"github.com/ibapi-go/tws/metrics"
	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/router"
	"github.com/ibapi-go/tws/wire"
)

// Connection owns the socket, performs the handshake, and runs the
// single reader goroutine plus the reconnect loop. There is exactly one
// inbound reader per connection epoch (spec.md §3 Invariants).
type Connection struct {
	worker.Worker

	cfg Config
	log *log.Logger
	r   *router.Router
	m   *metrics.Metrics
	rec *wire.Recorder

	connMu sync.RWMutex
	conn   net.Conn

	writeMu sync.Mutex

	state int32 // atomic State

	connectedOnce chan struct{}
	connectErr    error
	connectOnce   sync.Once
}

// NewConnection creates a Connection bound to r for routing decoded
// frames. It does not dial until Start is called.
func NewConnection(cfg Config, r *router.Router, m *metrics.Metrics, logger *log.Logger) (*Connection, error) {
	resolved := cfg.withDefaults()
	c := &Connection{
		cfg:           resolved,
		log:           logger.WithPrefix("connection"),
		r:             r,
		m:             m,
		connectedOnce: make(chan struct{}),
	}
	if resolved.RecordingDir != "" {
		rec, err := wire.NewRecorder(resolved.RecordingDir, logger)
		if err != nil {
			c.log.Warnf("recording disabled, failed to open %s: %v", resolved.RecordingDir, err)
		} else {
			c.rec = rec
		}
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Connection) setState(s State, err error) {
	atomic.StoreInt32(&c.state, int32(s))
	if c.m != nil {
		c.m.ConnectionState.Set(float64(s))
	}
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s, err)
	}
}

// Start dials and performs the handshake synchronously, then launches
// the background reader/reconnect loop. It blocks until the first
// connect attempt succeeds or permanently fails.
func (c *Connection) Start(ctx context.Context) error {
	c.Go(func() { c.connectLoop(ctx) })
	select {
	case <-c.connectedOnce:
		return c.connectErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) connectLoop(ctx context.Context) {
	backoff := newFibonacci(c.cfg.MaxBackoff)
	attempts := 0
	for {
		select {
		case <-c.HaltCh():
			c.finishConnecting(fmt.Errorf("shut down before connecting"))
			return
		default:
		}

		conn, serverVersion, err := c.dialAndHandshake(ctx)
		if err != nil {
			attempts++
			c.log.Warnf("connect attempt %d failed: %v", attempts, err)
			if attempts >= c.cfg.MaxReconnectAttempts {
				c.setState(StateShutdown, err)
				c.finishConnecting(err)
				return
			}
			delay := backoff.Next()
			select {
			case <-c.HaltCh():
				c.finishConnecting(err)
				return
			case <-time.After(delay):
			}
			continue
		}

		backoff.Reset()
		attempts = 0
		c.r.SetServerVersion(int32(serverVersion))
		epoch := c.r.Epoch()
		if epoch > 0 {
			if c.m != nil {
				c.m.ReconnectTotal.Inc()
			}
		}
		c.r.BumpEpoch()
		c.setConn(conn)
		c.setState(StateConnected, nil)
		c.finishConnecting(nil)

		c.readLoop(conn)

		c.r.OnReconnect()
		c.setConn(nil)
		conn.Close()

		select {
		case <-c.HaltCh():
			c.setState(StateShutdown, nil)
			return
		default:
		}
		c.setState(StateReconnecting, &protocol.ConnectionResetError{})
	}
}

func (c *Connection) finishConnecting(err error) {
	c.connectOnce.Do(func() {
		c.connectErr = err
		close(c.connectedOnce)
	})
}

func (c *Connection) setConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Connection) getConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// dialAndHandshake dials the endpoint and performs the wire handshake
// (spec.md §6), including waiting for the first routed-shared message
// (next_valid_id) per spec.md §4.C. On success it returns the live
// connection, already positioned to have its remaining traffic consumed
// by readLoop.
func (c *Connection) dialAndHandshake(ctx context.Context) (net.Conn, int, error) {
	c.setState(StateHandshaking, nil)
	conn, err := c.cfg.DialFn(ctx, "tcp", c.cfg.Endpoint)
	if err != nil {
		return nil, 0, &protocol.IOError{Err: err}
	}
	conn.SetDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	serverVersion, err := c.handshake(conn)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	if err := c.awaitNextValidID(conn); err != nil {
		conn.Close()
		return nil, 0, err
	}
	conn.SetDeadline(time.Time{})
	return conn, serverVersion, nil
}

func (c *Connection) handshake(conn net.Conn) (int, error) {
	if err := wire.WriteRaw(conn, []byte(apiPrefix)); err != nil {
		return 0, &protocol.IOError{Err: err}
	}
	versionRange := fmt.Sprintf("v%d..%d", c.cfg.VersionMin, c.cfg.VersionMax)
	if _, err := wire.WriteFrameRaw(conn, wire.NewFrame(versionRange), c.maxFrameSize()); err != nil {
		return 0, &protocol.IOError{Err: err}
	}

	frame, raw, err := wire.ReadFrameRaw(conn, c.maxFrameSize())
	if err != nil {
		return 0, &protocol.IOError{Err: err}
	}
	c.rec.RecordRead(raw)
	if len(frame.Fields) < 2 {
		return 0, protocol.NewProtoError("malformed handshake reply", nil)
	}
	serverVersion, err := strconv.Atoi(frame.Field(0))
	if err != nil {
		return 0, protocol.NewProtoError("non-numeric server version", err)
	}

	startAPI := wire.NewFrame(strconv.Itoa(protocol.OutStartAPI), startAPIVersion, strconv.Itoa(int(c.cfg.ClientID)), c.cfg.OptionalCapabilities)
	rawOut, err := wire.WriteFrameRaw(conn, startAPI, c.maxFrameSize())
	if err != nil {
		return 0, &protocol.IOError{Err: err}
	}
	c.rec.RecordWrite(rawOut)
	return serverVersion, nil
}

// awaitNextValidID blocks (bounded by the handshake deadline already
// set on conn) until the next_valid_id message arrives, seeding the
// Router's order-id counter, and routes every other frame seen in the
// interim normally so nothing is lost.
func (c *Connection) awaitNextValidID(conn net.Conn) error {
	for {
		frame, raw, err := wire.ReadFrameRaw(conn, c.maxFrameSize())
		if err != nil {
			return &protocol.IOError{Err: err}
		}
		c.rec.RecordRead(raw)
		if frame.Field(0) == strconv.Itoa(protocol.InNextValidID) && len(frame.Fields) >= 2 {
			id, err := strconv.Atoi(frame.Field(1))
			if err != nil {
				return protocol.NewProtoError("non-numeric next_valid_id", err)
			}
			c.r.SeedOrderID(int32(id))
			return nil
		}
		c.r.Route(frame)
	}
}

func (c *Connection) maxFrameSize() int {
	if c.cfg.MaxFrameSize > 0 {
		return c.cfg.MaxFrameSize
	}
	return wire.DefaultMaxFrameSize
}

// readLoop is the single inbound reader for this epoch. It returns when
// the socket errors, handing control back to connectLoop to reconnect.
func (c *Connection) readLoop(conn net.Conn) {
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}
		frame, raw, err := wire.ReadFrameRaw(conn, c.maxFrameSize())
		if err != nil {
			c.log.Debugf("read loop terminating: %v", err)
			return
		}
		c.rec.RecordRead(raw)
		c.r.Route(frame)
	}
}

// Submit writes frame to the socket, serialized with every other
// writer via writeMu (spec.md §4.D Submit, §5 write-mutex guarantee).
// It does not wait for a response.
func (c *Connection) Submit(frame wire.Frame) error {
	conn := c.getConn()
	if conn == nil || c.State() != StateConnected {
		return &protocol.NotConnectedError{}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	raw, err := wire.WriteFrameRaw(conn, frame, c.maxFrameSize())
	if err != nil {
		return &protocol.IOError{Err: err}
	}
	c.rec.RecordWrite(raw)
	return nil
}

// Shutdown halts the reconnect loop and closes the socket. Every
// endpoint registered in the final epoch observes ConnectionReset.
//
// The socket is closed before Halt blocks on the background goroutine:
// readLoop has no read deadline once connected, so closing unblocks the
// pending read first, letting connectLoop notice HaltCh and return.
func (c *Connection) Shutdown() {
	if conn := c.getConn(); conn != nil {
		conn.Close()
	}
	c.Halt()
	c.r.OnReconnect()
	c.rec.Close()
	c.setState(StateShutdown, nil)
}
