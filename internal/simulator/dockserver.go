// internal/simulator/dockserver.go
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DockServer is a loopback stand-in for a dockserver RUDICS listener.
// It accepts a single connection, streams its input into the socket and
// copies everything it receives to its output.
type DockServer struct {
	listener net.Listener
	input    io.Reader
	output   io.Writer
	logger   *zap.Logger

	started   atomic.Bool
	mutex     sync.Mutex
	conn      net.Conn
	received  int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewDockServer creates a listener on an ephemeral loopback port.
// input may be nil; a nil output discards received bytes.
func NewDockServer(input io.Reader, output io.Writer, logger *zap.Logger) (*DockServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for simulated dockserver: %w", err)
	}
	if output == nil {
		output = io.Discard
	}

	return &DockServer{
		listener: listener,
		input:    input,
		output:   output,
		logger:   logger.With(zap.String("component", "faux-dockserver")),
		done:     make(chan struct{}),
	}, nil
}

// Host returns the listening address
func (d *DockServer) Host() string {
	return d.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port
func (d *DockServer) Port() int {
	return d.listener.Addr().(*net.TCPAddr).Port
}

// Start serves in the background until the peer hangs up, ctx is
// cancelled or Close is called
func (d *DockServer) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.logger.Info("Simulated dockserver listening",
		zap.String("host", d.Host()),
		zap.Int("port", d.Port()),
	)

	go d.serve()
	go func() {
		select {
		case <-ctx.Done():
			d.Close()
		case <-d.done:
		}
	}()
}

// Done is closed once the accepted connection has ended
func (d *DockServer) Done() <-chan struct{} {
	return d.done
}

// Received returns the number of bytes written to the output
func (d *DockServer) Received() int64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.received
}

func (d *DockServer) serve() {
	defer close(d.done)

	conn, err := d.listener.Accept()
	// Only the first connection is served
	d.listener.Close()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			d.logger.Error("Simulated dockserver accept failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	d.mutex.Lock()
	d.conn = conn
	d.mutex.Unlock()

	d.logger.Info("Simulated dockserver connection accepted",
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	var wg sync.WaitGroup
	if d.input != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := io.Copy(conn, d.input)
			if err != nil && !errors.Is(err, net.ErrClosed) {
				d.logger.Warn("Simulated dockserver input failed", zap.Error(err))
			}
			d.logger.Info("Simulated dockserver input exhausted", zap.Int64("bytes", n))
		}()
	}

	buffer := make([]byte, 4096)
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			if _, werr := d.output.Write(buffer[:n]); werr != nil {
				d.logger.Error("Simulated dockserver output failed", zap.Error(werr))
				break
			}
			d.mutex.Lock()
			d.received += int64(n)
			d.mutex.Unlock()
		}
		if err != nil {
			break
		}
	}

	d.logger.Info("Simulated dockserver connection closed", zap.Int64("received", d.Received()))
	conn.Close()
	wg.Wait()
}

// Close stops listening, drops the connection and waits for the server
func (d *DockServer) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if cerr := d.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		d.mutex.Lock()
		if d.conn != nil {
			d.conn.Close()
		}
		d.mutex.Unlock()
	})
	if d.started.Load() {
		<-d.done
	}
	return err
}
