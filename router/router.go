// Package router implements the demultiplexing fabric described in
// spec.md §4.D: it owns the message-id table lookup, the channel
// registry, the shared-channel tables, request-id/order-id allocation,
// the server version and epoch, and delivers inbound frames to exactly
// the right subscriber(s).
//
// Grounded on thrasher-corp/gocryptotrader's exchanges/dispatch package
// (a ticket-keyed channel registry fed by a single relayer loop) and
// ethereum-go-ethereum's rpc.Client dispatch loop (request-id keyed
// pending-call map); the bounded-wait-then-drop delivery policy is this
// module's own per spec.md §4.D.
package router

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ibapi-go/tws/metrics"
	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/wire"
)

// DefaultRequestIDFloor is the fixed floor request ids are seeded from
// at process start (spec.md §3).
const DefaultRequestIDFloor = 9000

// DefaultDeliveryTimeout bounds how long Route blocks/awaits attempting
// to hand a frame to a full channel before dropping it (spec.md §4.D).
const DefaultDeliveryTimeout = 3 * time.Second

// DefaultChannelCapacity is the default bound on a routed channel
// (spec.md §5 Backpressure).
const DefaultChannelCapacity = 100

// Router is the demultiplexer. One Router exists per Connection and is
// reused across reconnects (on_reconnect resets its per-epoch state,
// it is not recreated).
type Router struct {
	log *log.Logger
	m   *metrics.Metrics

	deliveryTimeout  time.Duration
	channelCapacity  int

	mu             sync.RWMutex
	registry       map[RoutingKey]*Endpoint
	shared         map[protocol.Class][]*Endpoint
	overflowCounts map[string]int64

	nextRequestID int32
	nextOrderID   int32
	serverVersion int32
	epoch         int32
}

// Option configures a Router at construction.
type Option func(*Router)

func WithDeliveryTimeout(d time.Duration) Option { return func(r *Router) { r.deliveryTimeout = d } }
func WithChannelCapacity(n int) Option           { return func(r *Router) { r.channelCapacity = n } }
func WithMetrics(m *metrics.Metrics) Option      { return func(r *Router) { r.m = m } }

// New creates a Router with request ids seeded from DefaultRequestIDFloor.
func New(logger *log.Logger, opts ...Option) *Router {
	r := &Router{
		log:             logger.WithPrefix("router"),
		deliveryTimeout: DefaultDeliveryTimeout,
		channelCapacity: DefaultChannelCapacity,
		registry:        make(map[RoutingKey]*Endpoint),
		shared:          make(map[protocol.Class][]*Endpoint),
		overflowCounts:  make(map[string]int64),
		nextRequestID:   DefaultRequestIDFloor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AllocateRequestID atomically returns the next request id. Ids are
// strictly increasing within an epoch and never reused.
func (r *Router) AllocateRequestID() int32 {
	id := atomic.AddInt32(&r.nextRequestID, 1) - 1
	if r.m != nil {
		r.m.NextRequestID.Set(float64(r.nextRequestID))
	}
	return id
}

// SeedOrderID sets the order-id counter from the gateway-supplied
// initial value at connect/reconnect (spec.md §3).
func (r *Router) SeedOrderID(next int32) {
	atomic.StoreInt32(&r.nextOrderID, next)
}

// AllocateOrderID atomically returns the next order id.
func (r *Router) AllocateOrderID() int32 {
	id := atomic.AddInt32(&r.nextOrderID, 1) - 1
	if r.m != nil {
		r.m.NextOrderID.Set(float64(r.nextOrderID))
	}
	return id
}

// SetServerVersion records the negotiated server version.
func (r *Router) SetServerVersion(v int32) { atomic.StoreInt32(&r.serverVersion, v) }

// ServerVersion returns the negotiated server version.
func (r *Router) ServerVersion() int32 { return atomic.LoadInt32(&r.serverVersion) }

// Epoch returns the current connection epoch.
func (r *Router) Epoch() int32 { return atomic.LoadInt32(&r.epoch) }

// BumpEpoch increments the epoch counter on every successful connect,
// the first one included.
func (r *Router) BumpEpoch() int32 {
	e := atomic.AddInt32(&r.epoch, 1)
	if r.m != nil {
		r.m.Epoch.Set(float64(e))
	}
	return e
}

// Register creates and inserts a fresh Endpoint for key. It is an error
// (DuplicateRoutingKeyError) for key to already be registered — with a
// correct allocator this must not happen.
func (r *Router) Register(key RoutingKey) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.registry[key]; exists {
		return nil, &protocol.DuplicateRoutingKeyError{Key: key.String()}
	}
	ep := NewEndpoint(r.channelCapacity)
	r.registry[key] = ep
	return ep, nil
}

// Deregister removes key from the registry and closes its endpoint.
// Idempotent: deregistering an absent key is a no-op.
func (r *Router) Deregister(key RoutingKey) {
	r.mu.Lock()
	ep, ok := r.registry[key]
	if ok {
		delete(r.registry, key)
	}
	r.mu.Unlock()
	if ok {
		ep.Close()
	}
}

// SubscribeShared adds a new subscriber to class's shared channel. Late
// joiners do not receive frames broadcast before they subscribed
// (spec.md §9 Open Question, resolved: no buffering).
func (r *Router) SubscribeShared(class protocol.Class) *Endpoint {
	ep := NewEndpoint(r.channelCapacity)
	r.mu.Lock()
	r.shared[class] = append(r.shared[class], ep)
	r.mu.Unlock()
	return ep
}

// UnsubscribeShared removes ep from class's subscriber list and closes it.
func (r *Router) UnsubscribeShared(class protocol.Class, ep *Endpoint) {
	r.mu.Lock()
	list := r.shared[class]
	for i, e := range list {
		if e == ep {
			r.shared[class] = append(list[:i], list[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	ep.Close()
}

// Route demultiplexes one inbound frame per the message-id table
// (spec.md §3, §4.D). Unknown message-ids are surfaced on the error
// shared channel as a ProtocolError, per spec.md §9's recommended
// resolution of that Open Question.
func (r *Router) Route(frame wire.Frame) {
	if len(frame.Fields) == 0 {
		return
	}
	messageID, err := strconv.Atoi(frame.Field(0))
	if err != nil {
		r.routeProtocolError(protocol.NewProtoError("non-numeric message-id field", err))
		return
	}
	spec, ok := protocol.Lookup(messageID)
	if !ok {
		r.routeProtocolError(protocol.NewProtoError("unknown message-id "+strconv.Itoa(messageID), nil))
		return
	}

	switch spec.Mode {
	case protocol.RouteByField:
		r.routeKeyed(RequestKey(r.parseRoutingField(frame, spec.FieldIndex)), frame, spec.EndOfStream)
	case protocol.RouteByOrderID:
		r.routeKeyed(OrderKey(r.parseRoutingField(frame, spec.FieldIndex)), frame, spec.EndOfStream)
	case protocol.RouteError:
		r.routeError(frame, spec)
	case protocol.RouteShared:
		r.Broadcast(spec.Class, Delivery{Frame: &frame}, spec.EndOfStream)
	}
}

func (r *Router) parseRoutingField(frame wire.Frame, idx int) int32 {
	v, _ := strconv.Atoi(frame.Field(idx))
	return int32(v)
}

// routeError implements the §4.D tie-break: keyed delivery wins if the
// routing field decodes as a positive integer matching a live
// registration, else the error broadcasts on the shared error channel.
// Either way the payload is decoded into a *protocol.ServerError and
// delivered as a terminal Delivery.Err, never as a raw frame — per the
// Delivery/Subscription contract, a caller's domain decoder never sees
// an error frame (spec.md §7).
func (r *Router) routeError(frame wire.Frame, spec protocol.MessageIDSpec) {
	reqID := r.parseRoutingField(frame, spec.FieldIndex)
	svcErr := protocol.DecodeServerError(frame)
	if reqID > 0 {
		key := RequestKey(reqID)
		r.mu.RLock()
		ep, ok := r.registry[key]
		r.mu.RUnlock()
		if ok {
			r.deliver(key, ep, Delivery{Err: svcErr}, true)
			if !spec.DualRouted {
				return
			}
		}
	}
	r.Broadcast(spec.Class, Delivery{Err: svcErr}, false)
}

func (r *Router) routeProtocolError(err error) {
	r.log.Warnf("routing failure: %v", err)
	r.mu.RLock()
	subs := append([]*Endpoint(nil), r.shared[protocol.ClassError]...)
	r.mu.RUnlock()
	for _, ep := range subs {
		ep.SendOrTimeout(Delivery{Err: err}, r.deliveryTimeout)
	}
}

func (r *Router) routeKeyed(key RoutingKey, frame wire.Frame, endOfStream bool) {
	r.mu.RLock()
	ep, ok := r.registry[key]
	r.mu.RUnlock()
	if !ok {
		// No live subscriber for this id: not a protocol violation (the
		// caller may have already cancelled), just drop.
		return
	}
	r.deliver(key, ep, Delivery{Frame: &frame}, endOfStream)
}

func (r *Router) deliver(key RoutingKey, ep *Endpoint, d Delivery, endOfStream bool) {
	if !ep.SendOrTimeout(d, r.deliveryTimeout) {
		r.recordOverflow(key)
		r.log.Warnf("channel overflow, dropped frame for %s", key)
	}
	if endOfStream {
		r.Deregister(key)
	}
}

func (r *Router) recordOverflow(key RoutingKey) {
	if r.m != nil {
		r.m.Overflow.WithLabelValues(key.String()).Inc()
	}
	r.mu.Lock()
	r.overflowCounts[key.String()]++
	r.mu.Unlock()
}

// Broadcast fans d out to every current subscriber of class. Late
// joiners never see it (it has already happened by the time they
// subscribe).
func (r *Router) Broadcast(class protocol.Class, d Delivery, endOfStream bool) {
	r.mu.RLock()
	subs := append([]*Endpoint(nil), r.shared[class]...)
	r.mu.RUnlock()
	key := SharedKey(class)
	for _, ep := range subs {
		if !ep.SendOrTimeout(d, r.deliveryTimeout) {
			r.recordOverflow(key)
		}
	}
	if endOfStream {
		r.mu.Lock()
		list := r.shared[class]
		delete(r.shared, class)
		r.mu.Unlock()
		for _, ep := range list {
			ep.Close()
		}
	}
}

// OnReconnect drains the registry, delivering exactly one
// ConnectionReset to every endpoint registered in the previous epoch,
// then closes them and clears the shared tables (spec.md §3 Invariants,
// §4.D). Shared-channel subscribers must resubscribe after this call.
func (r *Router) OnReconnect() {
	r.mu.Lock()
	registry := r.registry
	shared := r.shared
	r.registry = make(map[RoutingKey]*Endpoint)
	r.shared = make(map[protocol.Class][]*Endpoint)
	r.mu.Unlock()

	resetErr := &protocol.ConnectionResetError{}
	for _, ep := range registry {
		ep.SendOrTimeout(Delivery{Err: resetErr}, r.deliveryTimeout)
		ep.Close()
	}
	for _, list := range shared {
		for _, ep := range list {
			ep.SendOrTimeout(Delivery{Err: resetErr}, r.deliveryTimeout)
			ep.Close()
		}
	}
}

// Stats reports the overflow count observed for key, for diagnostics
// (SPEC_FULL.md §5 supplemented feature).
func (r *Router) Stats(key RoutingKey) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overflowCounts[key.String()]
}
