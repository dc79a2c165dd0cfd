package tws

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/wire"
)

func serveHandshake(t *testing.T, conn net.Conn, serverVersion int) {
	t.Helper()
	magic := make([]byte, 4)
	_, err := io.ReadFull(conn, magic)
	require.NoError(t, err)
	require.Equal(t, "API\x00", string(magic))
	_, err = wire.ReadFrame(conn, 0)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(serverVersion), "20240115 10:30:45 EST"), 0))
	_, err = wire.ReadFrame(conn, 0)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(protocol.InNextValidID), "9000"), 0))
}

func newTestClient(t *testing.T, serverVersion int, accept func(conn net.Conn)) *Client {
	t.Helper()
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			serveHandshake(t, server, serverVersion)
			if accept != nil {
				accept(server)
			}
		}()
		return client, nil
	}
	c, err := New(Config{
		Endpoint:         "mock:0",
		ClientID:         100,
		HandshakeTimeout: 2 * time.Second,
		DialFn:           dial,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	return c
}

func TestClientConnectNegotiatesVersion(t *testing.T) {
	c := newTestClient(t, 176, nil)
	defer c.Shutdown()
	require.Equal(t, int32(176), c.ServerVersion())
	require.True(t, c.IsConnected())
}

func TestClientServerTime(t *testing.T) {
	c := newTestClient(t, 176, func(conn net.Conn) {
		f, err := wire.ReadFrame(conn, 0)
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(protocol.OutReqCurrentTime), f.Field(0))
		require.NoError(t, wire.WriteFrame(conn, wire.NewFrame(
			strconv.Itoa(protocol.InCurrentTime), f.Field(1), "1705319445"), 0))
	})
	defer c.Shutdown()

	v, err := c.ServerTime()
	require.NoError(t, err)
	require.Equal(t, int64(1705319445), v)
}

func TestClientPositionsStreamsUpdatesThenCloses(t *testing.T) {
	// InPositionEnd broadcasts on the distinct ClassPositionEnd, so a
	// ClassPosition subscriber never sees an automatic end-of-stream; the
	// caller is expected to Close() once it has what it needs.
	c := newTestClient(t, 176, func(conn net.Conn) {
		// Reply only once the reqPositions trigger arrives, then read the
		// cancel frame Close submits so that write does not block.
		f, err := wire.ReadFrame(conn, 0)
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(protocol.OutReqPositions), f.Field(0))
		for i := 0; i < 2; i++ {
			wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(protocol.InPosition), "DU1", "MSFT", "5"), 0)
		}
		wire.ReadFrame(conn, 0)
	})
	defer c.Shutdown()

	sub, err := c.Positions()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		p, err, ok := sub.Next(context.Background())
		require.True(t, ok)
		require.NoError(t, err)
		require.Equal(t, "MSFT", p.Symbol)
	}

	sub.Close()
	_, err, ok := sub.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
