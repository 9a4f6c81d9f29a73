// internal/protocol/tcp_connection.go
package protocol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial2rudics/internal/model"
)

// DialFunc dials a network address. (*net.Dialer).DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// NetworkEndpoint is the TCP client leg to the dockserver. Connect and Close
// belong to the supervisor; Read and Write are used by the running session,
// one goroutine each.
type NetworkEndpoint struct {
	config *TCPConfig
	dial   DialFunc
	conn   net.Conn
	state  model.ConnectionState
	logger *zap.Logger
	mutex  sync.RWMutex
	stats  statCounters
}

// NetworkOption customizes a NetworkEndpoint
type NetworkOption func(*NetworkEndpoint)

// WithDialer replaces the default net.Dialer
func WithDialer(dial DialFunc) NetworkOption {
	return func(ne *NetworkEndpoint) {
		ne.dial = dial
	}
}

// NewNetworkEndpoint creates a disconnected network endpoint
func NewNetworkEndpoint(config *TCPConfig, logger *zap.Logger, opts ...NetworkOption) *NetworkEndpoint {
	ne := &NetworkEndpoint{
		config: config,
		state:  model.StateDisconnected,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		),
	}

	dialer := &net.Dialer{
		Timeout: config.Timeout,
	}
	if config.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	} else {
		dialer.KeepAlive = -1
	}
	ne.dial = dialer.DialContext

	for _, opt := range opts {
		opt(ne)
	}
	return ne
}

// Address returns host:port of the dockserver
func (ne *NetworkEndpoint) Address() string {
	return net.JoinHostPort(ne.config.Host, strconv.Itoa(ne.config.Port))
}

// Connect dials the dockserver. A failure leaves the endpoint Disconnected.
func (ne *NetworkEndpoint) Connect(ctx context.Context) error {
	ne.mutex.Lock()
	if ne.state == model.StateConnected && ne.conn != nil {
		ne.mutex.Unlock()
		return nil
	}
	ne.state = model.StateConnecting
	ne.mutex.Unlock()

	address := ne.Address()
	ne.logger.Debug("Dialing dockserver", zap.Duration("timeout", ne.config.Timeout))

	dialCtx := ctx
	if ne.config.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, ne.config.Timeout)
		defer cancel()
	}

	conn, err := ne.dial(dialCtx, "tcp", address)
	if err != nil {
		ne.stats.recordError()
		ne.setState(model.StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyDialError(err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && ne.config.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	ne.mutex.Lock()
	ne.conn = conn
	ne.state = model.StateConnected
	ne.mutex.Unlock()
	ne.stats.lastActivity.Store(time.Now())

	ne.logger.Info("TCP connection opened", zap.String("remote_addr", conn.RemoteAddr().String()))
	return nil
}

// Close releases the socket. It is safe to call in any state, any number
// of times.
func (ne *NetworkEndpoint) Close() error {
	ne.mutex.Lock()
	conn := ne.conn
	ne.conn = nil
	ne.state = model.StateDisconnected
	ne.mutex.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil {
		ne.logger.Debug("TCP close returned error", zap.Error(err))
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	ne.logger.Info("TCP connection closed")
	return nil
}

// State returns the current connection state
func (ne *NetworkEndpoint) State() model.ConnectionState {
	ne.mutex.RLock()
	defer ne.mutex.RUnlock()
	return ne.state
}

// IsOpen returns whether the endpoint is connected
func (ne *NetworkEndpoint) IsOpen() bool {
	return ne.State() == model.StateConnected
}

// RemoteAddr returns the peer address, or "" while disconnected
func (ne *NetworkEndpoint) RemoteAddr() string {
	ne.mutex.RLock()
	defer ne.mutex.RUnlock()
	if ne.conn == nil {
		return ""
	}
	return ne.conn.RemoteAddr().String()
}

func (ne *NetworkEndpoint) setState(state model.ConnectionState) {
	ne.mutex.Lock()
	ne.state = state
	ne.mutex.Unlock()
}

// handle returns the live connection without holding the lock during I/O
func (ne *NetworkEndpoint) handle() (net.Conn, error) {
	ne.mutex.RLock()
	defer ne.mutex.RUnlock()
	if ne.state != model.StateConnected || ne.conn == nil {
		return nil, ErrNotConnected
	}
	return ne.conn, nil
}

// fail tears down conn after an I/O error, unless it was already replaced
func (ne *NetworkEndpoint) fail(conn net.Conn, err error) error {
	ne.stats.recordError()

	ne.mutex.Lock()
	if ne.conn == conn {
		ne.conn = nil
		ne.state = model.StateDisconnected
	}
	ne.mutex.Unlock()
	conn.Close()

	return classifyIOError(err)
}

// Read waits at most wait for data. A (0, nil) result means the wait
// elapsed without data.
func (ne *NetworkEndpoint) Read(buffer []byte, wait time.Duration) (int, error) {
	conn, err := ne.handle()
	if err != nil {
		return 0, err
	}

	if wait > 0 {
		conn.SetReadDeadline(time.Now().Add(wait))
	}

	n, err := conn.Read(buffer)
	if n > 0 {
		ne.stats.recordRead(n)
	}
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		if n > 0 {
			// The error will be returned again by the next Read
			return n, nil
		}
		return 0, ne.fail(conn, err)
	}
	return n, nil
}

// Write writes every byte of data or fails. Unsent bytes are not retried.
func (ne *NetworkEndpoint) Write(data []byte) error {
	conn, err := ne.handle()
	if err != nil {
		return err
	}

	if ne.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(ne.config.WriteTimeout))
	}

	n, err := conn.Write(data)
	if err != nil {
		ne.logger.Warn("TCP write failed",
			zap.Error(err),
			zap.Int("bytes_written", n),
			zap.Int("bytes_discarded", len(data)-n),
		)
		return ne.fail(conn, err)
	}

	ne.stats.recordWrite(n)
	return nil
}

// Stats returns a snapshot of the endpoint counters
func (ne *NetworkEndpoint) Stats() ProtocolStats {
	return ne.stats.snapshot(ne.IsOpen())
}
