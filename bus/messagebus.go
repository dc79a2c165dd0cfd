package bus

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/ibapi-go/tws/metrics"
	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/router"
	"github.com/ibapi-go/tws/wire"
)

// MessageBus is the public contract of spec.md §4.E: it orchestrates a
// Connection and a Router and exposes the send/subscribe surface every
// request helper and the public Client façade build on.
type MessageBus struct {
	conn    *Connection
	router  *router.Router
	metrics *metrics.Metrics
	log     *log.Logger
}

// New builds a MessageBus. It does not connect until Connect is called.
func New(cfg Config, logger *log.Logger) (*MessageBus, error) {
	m := metrics.New("ibapi")
	opts := []router.Option{
		router.WithChannelCapacity(nonZero(cfg.ChannelCapacity, router.DefaultChannelCapacity)),
		router.WithMetrics(m),
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, router.WithDeliveryTimeout(cfg.DeliveryTimeout))
	}
	r := router.New(logger, opts...)
	conn, err := NewConnection(cfg, r, m, logger)
	if err != nil {
		return nil, err
	}
	return &MessageBus{conn: conn, router: r, metrics: m, log: logger.WithPrefix("messagebus")}, nil
}

func nonZero(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Connect dials and performs the handshake, blocking until the first
// attempt resolves.
func (b *MessageBus) Connect(ctx context.Context) error {
	return b.conn.Start(ctx)
}

// Shutdown tears the connection down permanently.
func (b *MessageBus) Shutdown() { b.conn.Shutdown() }

// ServerVersion returns the negotiated server version (0 before connect).
func (b *MessageBus) ServerVersion() int32 { return b.router.ServerVersion() }

// IsConnected reports whether the bus is in the Connected state.
func (b *MessageBus) IsConnected() bool { return b.conn.State() == StateConnected }

// State returns the full lifecycle state.
func (b *MessageBus) State() State { return b.conn.State() }

// NextRequestID allocates and returns the next request id.
func (b *MessageBus) NextRequestID() int32 { return b.router.AllocateRequestID() }

// NextOrderID allocates and returns the next order id.
func (b *MessageBus) NextOrderID() int32 { return b.router.AllocateOrderID() }

// Router exposes the underlying Router for request helpers that need
// version-gate or routing-key access beyond the builder surface below.
func (b *MessageBus) Router() *router.Router { return b.router }

// Logger returns the bus's logger, so a caller can attach a prefixed
// sub-logger per subsystem (SPEC_FULL.md §5).
func (b *MessageBus) Logger() *log.Logger { return b.log }

// ForceReconnect is a best-effort nudge to recycle the connection now,
// grounded on client2's ForceFetch/ForceFetchPKI non-blocking signal
// pattern (SPEC_FULL.md §5). It is a no-op unless currently connected.
func (b *MessageBus) ForceReconnect() {
	if b.conn.State() != StateConnected {
		return
	}
	if conn := b.conn.getConn(); conn != nil {
		conn.Close()
	}
}

// SubmitRaw is fire-and-forget: no channel is registered (spec.md §4.E).
func (b *MessageBus) SubmitRaw(frame wire.Frame) error {
	if !b.IsConnected() {
		return &protocol.NotConnectedError{}
	}
	return b.conn.Submit(frame)
}

// RequestHandle is returned by Request: a freshly allocated request-id
// with a registered Endpoint, ready to Send and then be wrapped into a
// typed Subscription by the caller (generic functions can't be builder
// methods in Go, so wrapping happens in the subscription package).
type RequestHandle struct {
	bus *MessageBus
	ID  int32
	key router.RoutingKey
	ep  *router.Endpoint
}

// Request allocates a request-id and registers a fresh endpoint for it.
func (b *MessageBus) Request() (*RequestHandle, error) {
	if !b.IsConnected() {
		return nil, &protocol.NotConnectedError{}
	}
	id := b.router.AllocateRequestID()
	key := router.RequestKey(id)
	ep, err := b.router.Register(key)
	if err != nil {
		return nil, err
	}
	return &RequestHandle{bus: b, ID: id, key: key, ep: ep}, nil
}

// Send submits frame over the connection. On failure the endpoint is
// deregistered so no registration leaks (spec.md §8).
func (h *RequestHandle) Send(frame wire.Frame) error {
	if err := h.bus.conn.Submit(frame); err != nil {
		h.bus.router.Deregister(h.key)
		return err
	}
	return nil
}

// Endpoint returns the routed channel endpoint for this request.
func (h *RequestHandle) Endpoint() *router.Endpoint { return h.ep }

// Key returns the routing key, for Subscription's cancellation hook.
func (h *RequestHandle) Key() router.RoutingKey { return h.key }

// Cancel deregisters the endpoint without sending a server-side cancel.
func (h *RequestHandle) Cancel() { h.bus.router.Deregister(h.key) }

// OrderHandle is the order-id analog of RequestHandle.
type OrderHandle struct {
	bus *MessageBus
	ID  int32
	key router.RoutingKey
	ep  *router.Endpoint
}

// OrderRequest allocates an order-id and registers an order-keyed endpoint.
func (b *MessageBus) OrderRequest() (*OrderHandle, error) {
	if !b.IsConnected() {
		return nil, &protocol.NotConnectedError{}
	}
	id := b.router.AllocateOrderID()
	key := router.OrderKey(id)
	ep, err := b.router.Register(key)
	if err != nil {
		return nil, err
	}
	return &OrderHandle{bus: b, ID: id, key: key, ep: ep}, nil
}

func (h *OrderHandle) Send(frame wire.Frame) error {
	if err := h.bus.conn.Submit(frame); err != nil {
		h.bus.router.Deregister(h.key)
		return err
	}
	return nil
}

func (h *OrderHandle) Endpoint() *router.Endpoint { return h.ep }
func (h *OrderHandle) Key() router.RoutingKey      { return h.key }
func (h *OrderHandle) Cancel()                     { h.bus.router.Deregister(h.key) }

// SharedHandle subscribes to a shared class without allocating an id.
type SharedHandle struct {
	bus   *MessageBus
	class protocol.Class
	ep    *router.Endpoint
}

// SharedRequest subscribes to class's shared channel. Duplicate
// subscriptions to the same class are legal; both receive every frame
// (spec.md §8 Boundary cases).
func (b *MessageBus) SharedRequest(class protocol.Class) (*SharedHandle, error) {
	if !b.IsConnected() {
		return nil, &protocol.NotConnectedError{}
	}
	ep := b.router.SubscribeShared(class)
	return &SharedHandle{bus: b, class: class, ep: ep}, nil
}

func (h *SharedHandle) Endpoint() *router.Endpoint { return h.ep }
func (h *SharedHandle) Key() router.RoutingKey      { return router.SharedKey(h.class) }
func (h *SharedHandle) Cancel()                     { h.bus.router.UnsubscribeShared(h.class, h.ep) }
