// Package reqhelpers implements the two canonical request patterns of
// spec.md §4.G (one-shot with retry, and subscription) plus the version
// gate wrapper, on top of bus.MessageBus and subscription.Subscription.
package reqhelpers

import (
	"strconv"
	"time"

	"github.com/ibapi-go/tws/bus"
	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/subscription"
	"github.com/ibapi-go/tws/wire"
)

// DefaultOneShotTimeout bounds how long OneShot waits for its single
// reply before returning protocol.TimeoutError.
const DefaultOneShotTimeout = 10 * time.Second

// VersionGate checks server_version >= the feature's minimum before a
// caller encodes anything, returning UnsupportedVersionError otherwise
// (spec.md §4.G, §8 scenario 5: no frame is ever submitted on failure).
func VersionGate(b *bus.MessageBus, feature protocol.Feature) error {
	required, ok := protocol.MinVersion(feature)
	if !ok {
		return nil
	}
	actual := b.ServerVersion()
	if int(actual) < required {
		return &protocol.UnsupportedVersionError{Feature: feature, Required: required, Actual: int(actual)}
	}
	return nil
}

// OneShot encodes and sends frame via a fresh Request, then waits for
// the first non-error reply and decodes it. On ConnectionReset during
// the wait it retries exactly once after the caller-supplied
// reconnect-wait function returns (or fails fast if waitForReconnect is
// nil) — spec.md §4.G.
func OneShot[T any](b *bus.MessageBus, feature protocol.Feature, encode func(requestID int32) wire.Frame, decode subscription.Decoder[T], waitForReconnect func()) (T, error) {
	var zero T
	if feature != "" {
		if err := VersionGate(b, feature); err != nil {
			return zero, err
		}
	}

	v, err, retry := oneShotAttempt(b, encode, decode)
	if !retry {
		return v, err
	}
	if waitForReconnect == nil {
		return zero, err
	}
	waitForReconnect()
	v, err, _ = oneShotAttempt(b, encode, decode)
	return v, err
}

func oneShotAttempt[T any](b *bus.MessageBus, encode func(int32) wire.Frame, decode subscription.Decoder[T]) (T, error, bool) {
	var zero T
	h, err := b.Request()
	if err != nil {
		return zero, err, false
	}
	frame := encode(h.ID)
	if err := h.Send(frame); err != nil {
		return zero, err, false
	}
	defer h.Cancel()

	d, ok, completed := h.Endpoint().RecvTimeout(DefaultOneShotTimeout)
	if !completed {
		return zero, &protocol.TimeoutError{}, false
	}
	if !ok {
		return zero, nil, false
	}
	if d.Err != nil {
		_, isReset := d.Err.(*protocol.ConnectionResetError)
		return zero, d.Err, isReset
	}
	if d.Frame == nil {
		return zero, nil, false
	}
	val, err := decode(*d.Frame)
	if err != nil {
		return zero, protocol.NewProtoError("decode failed", err), false
	}
	return val, nil, false
}

// Stream encodes and sends frame via a fresh Request (or OrderRequest,
// see StreamOrder) and hands back the Subscription; the caller loops
// externally with no built-in retry (spec.md §4.G).
func Stream[T any](b *bus.MessageBus, feature protocol.Feature, encode func(requestID int32) wire.Frame, decode subscription.Decoder[T]) (*subscription.Subscription[T], error) {
	if feature != "" {
		if err := VersionGate(b, feature); err != nil {
			return nil, err
		}
	}
	h, err := b.Request()
	if err != nil {
		return nil, err
	}
	if err := h.Send(encode(h.ID)); err != nil {
		return nil, err
	}
	return subscription.New(h.Endpoint(), decode, h.Cancel), nil
}

// StreamShared subscribes to a shared class and hands back a
// Subscription; multiple callers may subscribe to the same class and
// each receives every frame (spec.md §8 scenario 6).
func StreamShared[T any](b *bus.MessageBus, class protocol.Class, decode subscription.Decoder[T]) (*subscription.Subscription[T], error) {
	h, err := b.SharedRequest(class)
	if err != nil {
		return nil, err
	}
	cancel := func() {
		h.Cancel()
		if code, ok := protocol.CancelCode[class]; ok {
			_ = b.SubmitRaw(wire.NewFrame(strconv.Itoa(code)))
		}
	}
	return subscription.New(h.Endpoint(), decode, cancel), nil
}

// StreamOrder sends an order-keyed request and hands back a
// Subscription routed by order-id rather than request-id.
func StreamOrder[T any](b *bus.MessageBus, encode func(orderID int32) wire.Frame, decode subscription.Decoder[T]) (*subscription.Subscription[T], error) {
	h, err := b.OrderRequest()
	if err != nil {
		return nil, err
	}
	if err := h.Send(encode(h.ID)); err != nil {
		return nil, err
	}
	return subscription.New(h.Endpoint(), decode, h.Cancel), nil
}
