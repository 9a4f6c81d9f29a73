// internal/bridge/session_test.go
package bridge

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial2rudics/internal/model"
	"serial2rudics/internal/protocol"
)

func connectedEndpoint(t *testing.T, ds *testDockServer) *protocol.NetworkEndpoint {
	t.Helper()
	ne := protocol.NewNetworkEndpoint(ds.config(), zap.NewNop())
	require.NoError(t, ne.Connect(context.Background()))
	return ne
}

func runSession(session *Session, ctx context.Context) (<-chan Result, <-chan error) {
	results := make(chan Result, 1)
	errs := make(chan error, 1)
	go func() {
		result, err := session.Run(ctx)
		results <- result
		errs <- err
	}()
	return results, errs
}

func TestSessionRelaysBothWays(t *testing.T) {
	ds := newTestDockServer(t)
	ne := connectedEndpoint(t, ds)
	peer := ds.accept(t)
	line := newFakeLine()

	var transcript bytes.Buffer
	session := NewSession(line, ne, NewIdleMonitor(time.Minute, time.Now()),
		SessionOptions{PollInterval: testPoll, Transcript: NewTranscriptWriter(&transcript)}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	results, errs := runSession(session, ctx)

	line.Inject("ABC")
	buf := make([]byte, 3)
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(buf))

	_, err = peer.Write([]byte("XYZ"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return line.Written() == "XYZ" }, 2*time.Second, 5*time.Millisecond)

	cancel()
	result := <-results
	require.NoError(t, <-errs)
	assert.Equal(t, model.ReasonShutdown, result.Reason)
	assert.Equal(t, session.ID(), result.SessionID)
	assert.Equal(t, int64(3), result.BytesToNetwork)
	assert.Equal(t, int64(3), result.BytesToSerial)
	assert.Equal(t, model.StateDisconnected, ne.State())
	assert.Equal(t, "SERIAL 3 : ABC\nRUDICS 3 : XYZ\n", transcript.String())
}

func TestSessionKeepsOrderWithinDirection(t *testing.T) {
	ds := newTestDockServer(t)
	ne := connectedEndpoint(t, ds)
	peer := ds.accept(t)
	line := newFakeLine()

	session := NewSession(line, ne, NewIdleMonitor(time.Minute, time.Now()),
		SessionOptions{PollInterval: testPoll, BufferSize: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results, errs := runSession(session, ctx)

	line.Inject("0123")
	line.Inject("456789")
	buf := make([]byte, 10)
	_, err := io.ReadFull(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(buf))

	cancel()
	<-results
	require.NoError(t, <-errs)
}

func TestSessionRemoteClose(t *testing.T) {
	ds := newTestDockServer(t)
	ne := connectedEndpoint(t, ds)
	peer := ds.accept(t)
	line := newFakeLine()

	session := NewSession(line, ne, NewIdleMonitor(time.Minute, time.Now()),
		SessionOptions{PollInterval: testPoll}, zap.NewNop())
	results, errs := runSession(session, context.Background())

	start := time.Now()
	peer.Close()

	result := <-results
	err := <-errs
	assert.Equal(t, model.ReasonNetworkClosed, result.Reason)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
	assert.False(t, protocol.IsFatal(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.StateDisconnected, ne.State())
}

func TestSessionIdleExpiry(t *testing.T) {
	ds := newTestDockServer(t)
	ne := connectedEndpoint(t, ds)
	ds.accept(t)
	line := newFakeLine()

	session := NewSession(line, ne, NewIdleMonitor(100*time.Millisecond, time.Now()),
		SessionOptions{PollInterval: testPoll}, zap.NewNop())
	results, errs := runSession(session, context.Background())

	result := <-results
	err := <-errs
	assert.Equal(t, model.ReasonIdleExpired, result.Reason)
	assert.ErrorIs(t, err, ErrIdleExpired)
	assert.GreaterOrEqual(t, result.Duration, 100*time.Millisecond)
	assert.Equal(t, model.StateDisconnected, ne.State())
}

func TestSessionMaxOpenTime(t *testing.T) {
	ds := newTestDockServer(t)
	ne := connectedEndpoint(t, ds)
	ds.accept(t)
	line := newFakeLine()

	session := NewSession(line, ne, NewIdleMonitor(time.Minute, time.Now()),
		SessionOptions{PollInterval: testPoll, MaxOpenTime: 80 * time.Millisecond}, zap.NewNop())
	results, errs := runSession(session, context.Background())

	assert.Equal(t, model.ReasonMaxOpenTime, (<-results).Reason)
	assert.ErrorIs(t, <-errs, ErrMaxOpenTime)
}

func TestSessionSerialFailureClosesNetwork(t *testing.T) {
	ds := newTestDockServer(t)
	ne := connectedEndpoint(t, ds)
	peer := ds.accept(t)
	line := newFakeLine()

	session := NewSession(line, ne, NewIdleMonitor(time.Minute, time.Now()),
		SessionOptions{PollInterval: testPoll}, zap.NewNop())
	results, errs := runSession(session, context.Background())

	line.Fail()

	result := <-results
	err := <-errs
	assert.Equal(t, model.ReasonSerialError, result.Reason)
	assert.True(t, protocol.IsFatal(err))
	assert.Equal(t, model.StateDisconnected, ne.State())

	// The dockserver sees the socket go away
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, readErr := peer.Read(make([]byte, 1))
	assert.ErrorIs(t, readErr, io.EOF)
}

func TestSessionShutdownInterruptsStalledWrite(t *testing.T) {
	ds := newTestDockServer(t)
	cfg := ds.config()
	cfg.WriteTimeout = 30 * time.Second
	ne := protocol.NewNetworkEndpoint(cfg, zap.NewNop())
	require.NoError(t, ne.Connect(context.Background()))
	// The dockserver accepts but never reads, so the socket buffers fill up
	ds.accept(t)
	line := newFakeLine()

	session := NewSession(line, ne, NewIdleMonitor(time.Minute, time.Now()),
		SessionOptions{PollInterval: testPoll, BufferSize: 1 << 20}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	results, errs := runSession(session, ctx)

	chunk := string(bytes.Repeat([]byte{'x'}, 4<<20))
	for i := 0; i < 16; i++ {
		line.Inject(chunk)
	}
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	cancel()

	select {
	case result := <-results:
		require.NoError(t, <-errs)
		assert.Equal(t, model.ReasonShutdown, result.Reason)
		assert.Less(t, result.BytesToNetwork, int64(64<<20))
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop while a network write was stalled")
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.StateDisconnected, ne.State())
}
