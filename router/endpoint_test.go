package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEndpointSendRecvRoundTrip(t *testing.T) {
	ep := NewEndpoint(1)
	ok := ep.SendOrTimeout(Delivery{Err: nil}, time.Second)
	require.True(t, ok)
	d, ok := ep.Recv()
	require.True(t, ok)
	require.Nil(t, d.Err)
}

func TestEndpointSendTimeoutWhenFull(t *testing.T) {
	ep := NewEndpoint(1)
	require.True(t, ep.SendOrTimeout(Delivery{}, time.Second))
	ok := ep.SendOrTimeout(Delivery{}, 10*time.Millisecond)
	require.False(t, ok)
}

func TestEndpointCloseUnblocksRecv(t *testing.T) {
	ep := NewEndpoint(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := ep.Recv()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	ep.Close()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock on Close")
	}
}

func TestEndpointCloseIdempotent(t *testing.T) {
	ep := NewEndpoint(1)
	ep.Close()
	ep.Close()
}

func TestRoutingKeyString(t *testing.T) {
	require.Equal(t, "request:9000", RequestKey(9000).String())
	require.Equal(t, "order:7", OrderKey(7).String())
	require.Contains(t, SharedKey("position").String(), "shared:")
}
