// internal/protocol/errors.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Serial-class errors. These are fatal for the process: the hardware line
// cannot be recovered without external intervention.
var (
	ErrDeviceUnavailable = errors.New("serial device unavailable")
	ErrSerialIO          = errors.New("serial i/o error")
)

// Network-class errors. These are signals to reconnect, never fatal.
var (
	ErrConnectTimeout   = errors.New("connect timeout")
	ErrConnectRefused   = errors.New("connection refused")
	ErrDNS              = errors.New("dns lookup failed")
	ErrConnectFailed    = errors.New("connect failed")
	ErrConnectionReset  = errors.New("connection reset")
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("not connected")
)

// IsFatal reports whether err belongs to the serial error class
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrSerialIO)
}

// classifyDialError maps a dial failure onto the connect error taxonomy
func classifyDialError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrDNS, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %w", ErrConnectRefused, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}

	return fmt.Errorf("%w: %w", ErrConnectFailed, err)
}

// classifyIOError maps a read/write failure on an established connection
func classifyIOError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionReset, err)
}

// isTimeout reports whether err is an elapsed read/write deadline
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
