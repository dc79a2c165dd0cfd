package bus

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/ibapi-go/tws/protocol"
	"github.com/ibapi-go/tws/router"
	"github.com/ibapi-go/tws/wire"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Prefix: "bus_test"})
}

func newTestRouter() *router.Router {
	return router.New(testLogger())
}

// serveHandshake plays the gateway side of spec.md §6's handshake: reads
// the "API\0" magic and version-range frame, replies with server_version
// and connection_time, reads the START_API frame, then emits the
// next_valid_id shared frame. It leaves conn open for the caller to
// drive the rest of the session.
func serveHandshake(t *testing.T, conn net.Conn, serverVersion, nextValidID int) {
	t.Helper()
	magic := make([]byte, 4)
	_, err := io.ReadFull(conn, magic)
	require.NoError(t, err)
	require.Equal(t, "API\x00", string(magic))

	_, err = wire.ReadFrame(conn, 0)
	require.NoError(t, err) // version range

	err = wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(serverVersion), "20240115 10:30:45 EST"), 0)
	require.NoError(t, err)

	_, err = wire.ReadFrame(conn, 0) // START_API
	require.NoError(t, err)

	err = wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(protocol.InNextValidID), strconv.Itoa(nextValidID)), 0)
	require.NoError(t, err)
}

// pipeDialer returns a DialFunc that hands each dial attempt a fresh
// net.Pipe, invoking accept with the server side. attempts is bumped
// per call, for tests that need to distinguish connect tries.
func pipeDialer(accept func(serverConn net.Conn, attempt int)) (DialFunc, *int32) {
	var attempt int32
	fn := func(ctx context.Context, network, addr string) (net.Conn, error) {
		n := atomic.AddInt32(&attempt, 1)
		client, server := net.Pipe()
		go accept(server, int(n))
		return client, nil
	}
	return fn, &attempt
}

func baseConfig(dial DialFunc) Config {
	return Config{
		Endpoint:         "mock:0",
		ClientID:         100,
		VersionMin:       100,
		VersionMax:       176,
		HandshakeTimeout: 2 * time.Second,
		DialFn:           dial,
	}
}

func TestHandshakeNegotiatesServerVersion(t *testing.T) {
	dial, _ := pipeDialer(func(conn net.Conn, attempt int) {
		serveHandshake(t, conn, 176, 9000)
	})
	r := newTestRouter()
	c, err := NewConnection(baseConfig(dial), r, nil, testLogger())
	require.NoError(t, err)
	defer c.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	require.Equal(t, int32(176), r.ServerVersion())
	require.Equal(t, StateConnected, c.State())
}

func TestRequestResponseByID(t *testing.T) {
	dial, _ := pipeDialer(func(conn net.Conn, attempt int) {
		serveHandshake(t, conn, 176, 9000)
		f, err := wire.ReadFrame(conn, 0)
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(protocol.OutReqCurrentTime), f.Field(0))
		reqID := f.Field(1)
		require.NoError(t, wire.WriteFrame(conn, wire.NewFrame(
			strconv.Itoa(protocol.InCurrentTime), reqID, "1705319445"), 0))
	})
	r := newTestRouter()
	c, err := NewConnection(baseConfig(dial), r, nil, testLogger())
	require.NoError(t, err)
	defer c.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	id := r.AllocateRequestID()
	key := router.RequestKey(id)
	ep, err := r.Register(key)
	require.NoError(t, err)
	require.NoError(t, c.Submit(wire.NewFrame(strconv.Itoa(protocol.OutReqCurrentTime), strconv.Itoa(int(id)))))

	d, ok, completed := ep.RecvTimeout(2 * time.Second)
	require.True(t, completed)
	require.True(t, ok)
	require.NoError(t, d.Err)
	require.Equal(t, "1705319445", d.Frame.Field(2))
}

func TestDemuxConcurrentOutOfOrderReplies(t *testing.T) {
	dial, _ := pipeDialer(func(conn net.Conn, attempt int) {
		serveHandshake(t, conn, 176, 9000)
		// Drain both outbound requests before replying out of order.
		f1, _ := wire.ReadFrame(conn, 0)
		f2, _ := wire.ReadFrame(conn, 0)
		ids := []string{f1.Field(1), f2.Field(1)}
		require.ElementsMatch(t, []string{"9000", "9001"}, ids)
		wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(protocol.InCurrentTime), "9001", "2"), 0)
		wire.WriteFrame(conn, wire.NewFrame(strconv.Itoa(protocol.InCurrentTime), "9000", "1"), 0)
	})
	r := newTestRouter()
	c, err := NewConnection(baseConfig(dial), r, nil, testLogger())
	require.NoError(t, err)
	defer c.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	id0 := r.AllocateRequestID()
	id1 := r.AllocateRequestID()
	ep0, err := r.Register(router.RequestKey(id0))
	require.NoError(t, err)
	ep1, err := r.Register(router.RequestKey(id1))
	require.NoError(t, err)

	require.NoError(t, c.Submit(wire.NewFrame(strconv.Itoa(protocol.OutReqCurrentTime), strconv.Itoa(int(id0)))))
	require.NoError(t, c.Submit(wire.NewFrame(strconv.Itoa(protocol.OutReqCurrentTime), strconv.Itoa(int(id1)))))

	d0, ok, completed := ep0.RecvTimeout(2 * time.Second)
	require.True(t, completed)
	require.True(t, ok)
	require.Equal(t, "1", d0.Frame.Field(2))

	d1, ok, completed := ep1.RecvTimeout(2 * time.Second)
	require.True(t, completed)
	require.True(t, ok)
	require.Equal(t, "2", d1.Frame.Field(2))
}

func TestReconnectInvalidatesPriorEpochSubscription(t *testing.T) {
	var mu sync.Mutex
	serverConns := 0
	registered := make(chan struct{})
	dial, _ := pipeDialer(func(conn net.Conn, attempt int) {
		mu.Lock()
		serverConns++
		n := serverConns
		mu.Unlock()
		serveHandshake(t, conn, 176, 9000)
		if n == 1 {
			<-registered // drop only once the test's id is registered in this epoch
			conn.Close() // first connection drops to force reconnect
			return
		}
		// second connection: stay up so the test can observe Connected again
		<-time.After(time.Hour)
	})

	r := newTestRouter()
	cfg := baseConfig(dial)
	cfg.MaxReconnectAttempts = 5
	c, err := NewConnection(cfg, r, nil, testLogger())
	require.NoError(t, err)
	defer c.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	id := r.AllocateRequestID()
	ep, err := r.Register(router.RequestKey(id))
	require.NoError(t, err)
	close(registered)

	d, ok, completed := ep.RecvTimeout(5 * time.Second)
	require.True(t, completed)
	require.True(t, ok)
	require.IsType(t, &protocol.ConnectionResetError{}, d.Err)

	_, ok, completed = ep.RecvTimeout(200 * time.Millisecond)
	require.True(t, completed)
	require.False(t, ok, "no further frames after the reset")
}

func TestVersionGateRejectsBeforeEncoding(t *testing.T) {
	var submitted int32
	dial, _ := pipeDialer(func(conn net.Conn, attempt int) {
		serveHandshake(t, conn, 100, 9000)
		for {
			_, err := wire.ReadFrame(conn, 0)
			if err != nil {
				return
			}
			atomic.AddInt32(&submitted, 1)
		}
	})
	cfg := baseConfig(dial)
	m, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer m.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))

	required, _ := protocol.MinVersion(protocol.FeatureFractionalPositions) // min 139
	require.Greater(t, required, int(m.ServerVersion()))

	err = versionGateForTest(m, protocol.FeatureFractionalPositions)
	require.Error(t, err)
	var uv *protocol.UnsupportedVersionError
	require.ErrorAs(t, err, &uv)
	require.Equal(t, 139, uv.Required)
	require.Equal(t, 100, uv.Actual)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&submitted))
}

func versionGateForTest(b *MessageBus, feature protocol.Feature) error {
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
