//go:build !linux

// internal/simulator/faux_serial_other.go
package simulator

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// DefaultDrainTimeout is how long a FauxSerial waits for more output
// from the bridge once its input is exhausted
const DefaultDrainTimeout = 10 * time.Second

// ErrUnsupported is returned where pseudo terminals are not available
var ErrUnsupported = errors.New("serial simulation requires linux pseudo terminals")

// FauxSerial is only available on linux
type FauxSerial struct{}

// NewFauxSerial always fails on this platform
func NewFauxSerial(input io.Reader, output io.Writer, drainTimeout time.Duration, logger *zap.Logger) (*FauxSerial, error) {
	return nil, ErrUnsupported
}

// Path returns the slave device to open as the serial port
func (f *FauxSerial) Path() string {
	return ""
}

// Written returns the number of bytes copied to the output
func (f *FauxSerial) Written() int64 {
	return 0
}

// Done is closed once the simulator has shut down
func (f *FauxSerial) Done() <-chan struct{} {
	return nil
}

// Start does nothing on this platform
func (f *FauxSerial) Start(ctx context.Context) {}

// Close does nothing on this platform
func (f *FauxSerial) Close() error {
	return nil
}
