// internal/bridge/helpers_test.go
package bridge

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"serial2rudics/internal/model"
	"serial2rudics/internal/protocol"
)

const testPoll = 20 * time.Millisecond

// fakeLine is an in-memory serial line. Inject plays the glider side;
// everything the bridge writes is collected in Written.
type fakeLine struct {
	incoming chan []byte
	failed   chan struct{}
	failOnce sync.Once

	readMutex sync.Mutex
	pending   []byte

	mutex   sync.Mutex
	written []byte
}

func newFakeLine() *fakeLine {
	return &fakeLine{
		incoming: make(chan []byte, 16),
		failed:   make(chan struct{}),
	}
}

func (l *fakeLine) Inject(data string) {
	l.incoming <- []byte(data)
}

func (l *fakeLine) Fail() {
	l.failOnce.Do(func() { close(l.failed) })
}

func (l *fakeLine) Read(buffer []byte) (int, error) {
	l.readMutex.Lock()
	defer l.readMutex.Unlock()

	if len(l.pending) == 0 {
		timer := time.NewTimer(testPoll)
		defer timer.Stop()
		select {
		case <-l.failed:
			return 0, errors.Join(protocol.ErrSerialIO, errors.New("device disconnected"))
		case data := <-l.incoming:
			l.pending = data
		case <-timer.C:
			return 0, nil
		}
	}

	n := copy(buffer, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *fakeLine) Write(data []byte) error {
	select {
	case <-l.failed:
		return protocol.ErrSerialIO
	default:
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.written = append(l.written, data...)
	return nil
}

func (l *fakeLine) Written() string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return string(l.written)
}

// testDockServer hands accepted loopback connections to the test
type testDockServer struct {
	ln    net.Listener
	conns chan net.Conn
	done  chan struct{}
}

func newTestDockServer(t *testing.T) *testDockServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &testDockServer{
		ln:    ln,
		conns: make(chan net.Conn, 8),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			d.conns <- conn
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		<-d.done
		close(d.conns)
		for conn := range d.conns {
			conn.Close()
		}
	})
	return d
}

func (d *testDockServer) config() *protocol.TCPConfig {
	host, port, _ := net.SplitHostPort(d.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return &protocol.TCPConfig{Host: host, Port: p, Timeout: time.Second, WriteTimeout: time.Second}
}

func (d *testDockServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-d.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection from the bridge")
		return nil
	}
}

// recordingSink collects published events
type recordingSink struct {
	mutex  sync.Mutex
	events []model.BridgeEvent
}

func (r *recordingSink) Publish(event model.BridgeEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) count(eventType model.EventType) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = testPoll
	opts.Spacing = 10 * time.Millisecond
	opts.Retry = RetryPolicy{Interval: 10 * time.Millisecond}
	return opts
}
