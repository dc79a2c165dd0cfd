// Package subscription implements the Subscription handle of spec.md
// §4.F: a single-consumer iterator over one routed Endpoint that
// applies a caller-supplied decoder and cancels (deregister + best-effort
// server-side cancel) when closed.
//
// Grounded on ethereum-go-ethereum's rpc.ClientSubscription (typed
// channel handle over a dispatch-routed id, closed on unsubscribe) and
// on spec.md §9's resolution of the dual-substrate design note: Go's
// goroutines already unify "preemptive" and "cooperative" consumption,
// so Next (blocking, context-bounded) and Stream (channel-based) are two
// views over the same Endpoint rather than two implementations.
package subscription

import (
	"context"
	"sync"

	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/router"
	"github.com/ibapi-go/tws/wire"
)

// Decoder turns a wire.Frame into a typed payload. Decoders are pure
// functions supplied by domain-specific collaborators (spec.md §1); the
// core never interprets frame contents beyond the message-id table.
type Decoder[T any] func(wire.Frame) (T, error)

// CancelFunc deregisters from the router and, best-effort, submits a
// server-side cancel frame if the class supports one.
type CancelFunc func()

// Subscription is a single-consumer handle over one routed Endpoint.
type Subscription[T any] struct {
	ep      *router.Endpoint
	decode  Decoder[T]
	cancel  CancelFunc
	closeMu sync.Once
	closed  bool
}

// New wraps ep into a typed Subscription. cancel is invoked exactly
// once, the first time Close runs or the endpoint reaches
// end-of-stream and the caller explicitly releases it.
func New[T any](ep *router.Endpoint, decode Decoder[T], cancel CancelFunc) *Subscription[T] {
	return &Subscription[T]{ep: ep, decode: decode, cancel: cancel}
}

// Result is one decoded item or a terminal error.
type Result[T any] struct {
	Value T
	Err   error
}

// Next blocks the calling goroutine for the next frame, applies the
// decoder, and returns it. A nil error with the zero value and ok=false
// means end-of-stream (the sentinel frame arrived); ok=true, err!=nil is
// a terminal error (ConnectionReset, ProtocolError, ServerError) after
// which no further frames will arrive. ctx bounds the wait, mirroring
// the threaded substrate's per-item timeout iterator (spec.md §4.F);
// pass context.Background() for no bound.
func (s *Subscription[T]) Next(ctx context.Context) (T, error, bool) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, &protocol.TimeoutError{}, true
	case v, ok := <-s.ep.Out():
		if !ok {
			return zero, nil, false
		}
		d := v.(router.Delivery)
		if d.Err != nil {
			return zero, d.Err, true
		}
		if d.Frame == nil {
			return zero, nil, false
		}
		val, err := s.decode(*d.Frame)
		if err != nil {
			s.Close()
			return zero, protocol.NewProtoError("decode failed", err), true
		}
		return val, nil, true
	}
}

// Stream returns a channel of decoded Results for cooperative,
// select-based consumption; it is closed when the subscription ends
// (end-of-stream, terminal error already sent, or ctx cancellation).
func (s *Subscription[T]) Stream(ctx context.Context) <-chan Result[T] {
	out := make(chan Result[T])
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-s.ep.Out():
				if !ok {
					return
				}
				d := v.(router.Delivery)
				if d.Err != nil {
					select {
					case out <- Result[T]{Err: d.Err}:
					case <-ctx.Done():
					}
					return
				}
				if d.Frame == nil {
					return
				}
				val, err := s.decode(*d.Frame)
				if err != nil {
					select {
					case out <- Result[T]{Err: protocol.NewProtoError("decode failed", err)}:
					case <-ctx.Done():
					}
					s.Close()
					return
				}
				select {
				case out <- Result[T]{Value: val}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close deregisters and best-effort cancels server-side. Idempotent:
// safe to call multiple times or after end-of-stream.
func (s *Subscription[T]) Close() {
	s.closeMu.Do(func() {
		s.closed = true
		if s.cancel != nil {
			s.cancel()
		}
	})
}
