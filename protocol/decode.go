package protocol

import (
	"strconv"

	"github.com/ibapi-go/tws/wire"
)

// Decoders below are illustrative, minimal domain decoders — spec.md §1
// treats per-domain encode/decode as opaque pure functions supplied by
// collaborators. These two exist only to make the §8 end-to-end
// scenarios (server time, position streaming) concrete and testable;
// a real integration supplies the rest through the same Decoder shape.

// DecodeServerTime decodes the reply to OutReqCurrentTime: message-id,
// request-id, unix-seconds.
func DecodeServerTime(f wire.Frame) (int64, error) {
	if len(f.Fields) < 3 {
		return 0, NewProtoError("server time frame too short", nil)
	}
	v, err := strconv.ParseInt(f.Field(2), 10, 64)
	if err != nil {
		return 0, NewProtoError("non-numeric server time", err)
	}
	return v, nil
}

// Position is the minimal shape of an InPosition frame: account,
// symbol, position size.
type Position struct {
	Account  string
	Symbol   string
	Quantity float64
}

// DecodePosition decodes an InPosition shared-class frame. The real
// wire layout carries more fields (contract details, average cost);
// only what spec.md §8 scenario 6 needs to assert ordering is modeled.
func DecodePosition(f wire.Frame) (Position, error) {
	if len(f.Fields) < 4 {
		return Position{}, NewProtoError("position frame too short", nil)
	}
	qty, err := strconv.ParseFloat(f.Field(3), 64)
	if err != nil {
		return Position{}, NewProtoError("non-numeric position quantity", err)
	}
	return Position{Account: f.Field(1), Symbol: f.Field(2), Quantity: qty}, nil
}

// DecodePositionEnd decodes the InPositionEnd sentinel, which carries no
// payload beyond the message-id.
func DecodePositionEnd(f wire.Frame) (struct{}, error) {
	return struct{}{}, nil
}

// DecodeServerError decodes an InErrMsg frame: message-id, request-id
// (<= 0 means none), code, text (spec.md §7's ServerError shape). Used
// by the router itself, not a per-domain Decoder — error frames are
// never handed to a caller's decoder (see router.routeError).
func DecodeServerError(f wire.Frame) *ServerError {
	var reqID *int
	if id, err := strconv.Atoi(f.Field(1)); err == nil && id > 0 {
		reqID = &id
	}
	code, _ := strconv.Atoi(f.Field(2))
	return &ServerError{Code: code, Text: f.Field(3), RequestID: reqID}
}
