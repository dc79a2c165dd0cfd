package protocol

import "fmt"

// NotConnectedError is returned when an operation is attempted outside
// the Connected state.
type NotConnectedError struct{}

func (e *NotConnectedError) Error() string { return "ibapi: not connected" }

// UnsupportedVersionError is returned when a feature gate rejects a
// request because the negotiated server version is too low.
type UnsupportedVersionError struct {
	Feature  Feature
	Required int
	Actual   int
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("ibapi: feature %q requires server version >= %d, got %d", e.Feature, e.Required, e.Actual)
}

// ConnectionResetError is delivered to every subscription registered in
// a prior epoch when that epoch ends (reconnect or shutdown).
type ConnectionResetError struct{}

func (e *ConnectionResetError) Error() string { return "ibapi: connection reset" }

// ProtoError is a framing violation, unknown message-id requiring
// routing, or malformed field. Named ProtoError (not ProtocolError) to
// avoid colliding with wire.ProtocolError, which is the lower-level
// framing-only variant this wraps when it escapes to a caller.
type ProtoError struct {
	Detail string
	Err    error
}

func (e *ProtoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ibapi: protocol error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("ibapi: protocol error: %s", e.Detail)
}

func (e *ProtoError) Unwrap() error { return e.Err }

func NewProtoError(detail string, err error) error {
	return &ProtoError{Detail: detail, Err: err}
}

// ServerError is a gateway-reported error, routed to the matching
// subscription when RequestID is non-nil, else delivered on the error
// shared channel.
type ServerError struct {
	Code      int
	Text      string
	RequestID *int
}

func (e *ServerError) Error() string {
	if e.RequestID != nil {
		return fmt.Sprintf("ibapi: server error %d for request %d: %s", e.Code, *e.RequestID, e.Text)
	}
	return fmt.Sprintf("ibapi: server error %d: %s", e.Code, e.Text)
}

// CancelledError names a subscription cancelled by the caller. No code
// path in this module returns it: Next after Close reports end-of-stream
// (ok=false, nil error).
type CancelledError struct{}

func (e *CancelledError) Error() string { return "ibapi: subscription cancelled" }

// TimeoutError is returned by bounded-wait helpers that exceed their
// deadline.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return "ibapi: timeout" }

// IOError wraps a socket error.
type IOError struct {
	Err error
}

func (e *IOError) Error() string  { return fmt.Sprintf("ibapi: io error: %v", e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// InvalidArgumentError is returned when a caller supplies a malformed
// request (e.g. an empty symbol).
type InvalidArgumentError struct {
	Detail string
}

func (e *InvalidArgumentError) Error() string { return fmt.Sprintf("ibapi: invalid argument: %s", e.Detail) }

// DuplicateRoutingKeyError indicates the id allocator produced a value
// already registered — a bug in the allocator or a misuse of the
// registry, not a runtime condition callers should plan around.
type DuplicateRoutingKeyError struct {
	Key string
}

func (e *DuplicateRoutingKeyError) Error() string {
	return fmt.Sprintf("ibapi: duplicate routing key: %s", e.Key)
}
