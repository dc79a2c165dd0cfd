package router

import (
	"fmt"

	"github.com/ibapi-go/tws/protocol"
)

// KeyKind discriminates the three routing-key shapes: request-id,
// order-id and shared class. Error frames have no kind of their own;
// they route through the request-id or shared shape.
type KeyKind int

const (
	KeyRequestID KeyKind = iota
	KeyOrderID
	KeyShared
)

// RoutingKey identifies the destination channel for an inbound frame:
// a request-id, an order-id, or a shared-class tag. It is comparable so
// it can be used directly as a map key.
type RoutingKey struct {
	Kind  KeyKind
	ID    int32
	Class protocol.Class
}

func RequestKey(id int32) RoutingKey  { return RoutingKey{Kind: KeyRequestID, ID: id} }
func OrderKey(id int32) RoutingKey    { return RoutingKey{Kind: KeyOrderID, ID: id} }
func SharedKey(c protocol.Class) RoutingKey { return RoutingKey{Kind: KeyShared, Class: c} }

func (k RoutingKey) String() string {
	switch k.Kind {
	case KeyRequestID:
		return fmt.Sprintf("request:%d", k.ID)
	case KeyOrderID:
		return fmt.Sprintf("order:%d", k.ID)
	default:
		return fmt.Sprintf("shared:%s", k.Class)
	}
}
