// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// PortOpener opens a serial device. serial.Open satisfies it.
type PortOpener func(path string, mode *serial.Mode) (serial.Port, error)

// SerialEndpoint owns the serial device handle for the whole process
// lifetime. Read and Write may be called concurrently from different
// goroutines; the mutex only guards the handle itself.
type SerialEndpoint struct {
	config *SerialConfig
	open   PortOpener
	port   serial.Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  statCounters
}

// SerialOption customizes a SerialEndpoint
type SerialOption func(*SerialEndpoint)

// WithPortOpener replaces serial.Open, mainly for tests
func WithPortOpener(opener PortOpener) SerialOption {
	return func(se *SerialEndpoint) {
		se.open = opener
	}
}

// NewSerialEndpoint creates a new serial endpoint
func NewSerialEndpoint(config *SerialConfig, logger *zap.Logger, opts ...SerialOption) *SerialEndpoint {
	se := &SerialEndpoint{
		config: config,
		open:   serial.Open,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

// Open opens the serial device
func (se *SerialEndpoint) Open(ctx context.Context) error {
	se.mutex.Lock()
	defer se.mutex.Unlock()

	if se.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	mode, err := se.mode()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	se.logger.Info("Opening serial port",
		zap.Int("baud_rate", mode.BaudRate),
		zap.Int("data_bits", mode.DataBits),
		zap.String("parity", se.config.Parity),
		zap.Float64("stop_bits", se.config.StopBits),
	)

	port, err := se.open(se.config.Port, mode)
	if err != nil {
		se.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, se.config.Port, err)
	}

	// Bounded reads let the bridge notice shutdown and idle expiry
	timeout := se.config.Timeout
	if timeout <= 0 {
		timeout = DefaultPollInterval
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set read timeout: %w", ErrDeviceUnavailable, err)
	}

	se.port = port
	se.isOpen = true

	se.logger.Info("Serial port opened successfully", zap.Duration("read_timeout", timeout))
	return nil
}

// mode builds the serial.Mode from configuration
func (se *SerialEndpoint) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: se.config.BaudRate,
		DataBits: se.config.DataBits,
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = DefaultBaudRate
	}
	if mode.DataBits <= 0 {
		mode.DataBits = DefaultDataBits
	}

	parity, err := ParseParity(se.config.Parity)
	if err != nil {
		return nil, err
	}
	mode.Parity = parity

	stopBits, err := ParseStopBits(se.config.StopBits)
	if err != nil {
		return nil, err
	}
	mode.StopBits = stopBits

	return mode, nil
}

// ParseParity accepts both long names and single-letter forms
func ParseParity(parity string) (serial.Parity, error) {
	switch parity {
	case "", "none", "N", "n":
		return serial.NoParity, nil
	case "odd", "O", "o":
		return serial.OddParity, nil
	case "even", "E", "e":
		return serial.EvenParity, nil
	case "mark", "M", "m":
		return serial.MarkParity, nil
	case "space", "S", "s":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("invalid parity: %q", parity)
	}
}

// ParseStopBits maps 1, 1.5 and 2 onto serial.StopBits
func ParseStopBits(stopBits float64) (serial.StopBits, error) {
	switch stopBits {
	case 0, 1:
		return serial.OneStopBit, nil
	case 1.5:
		return serial.OnePointFiveStopBits, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("invalid stop bits: %v", stopBits)
	}
}

// Close closes the serial device
func (se *SerialEndpoint) Close() error {
	se.mutex.Lock()
	defer se.mutex.Unlock()

	if !se.isOpen || se.port == nil {
		return nil
	}

	err := se.port.Close()
	se.port = nil
	se.isOpen = false

	if err != nil {
		se.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	se.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the device is open
func (se *SerialEndpoint) IsOpen() bool {
	se.mutex.RLock()
	defer se.mutex.RUnlock()
	return se.isOpen && se.port != nil
}

// handle returns the open port without holding the lock during I/O
func (se *SerialEndpoint) handle() (serial.Port, error) {
	se.mutex.RLock()
	defer se.mutex.RUnlock()

	if !se.isOpen || se.port == nil {
		return nil, fmt.Errorf("%w: port not open", ErrSerialIO)
	}
	return se.port, nil
}

// Read reads whatever is available within the configured read timeout.
// A (0, nil) result means the wait elapsed without data.
func (se *SerialEndpoint) Read(buffer []byte) (int, error) {
	port, err := se.handle()
	if err != nil {
		return 0, err
	}

	n, err := port.Read(buffer)
	if err != nil {
		se.stats.recordError()
		if errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: device returned EOF", ErrSerialIO)
		}
		se.logger.Error("Serial read failed", zap.Error(err))
		return n, fmt.Errorf("%w: %w", ErrSerialIO, err)
	}

	if n > 0 {
		se.stats.recordRead(n)
	}
	return n, nil
}

// Write writes every byte of data to the device
func (se *SerialEndpoint) Write(data []byte) error {
	port, err := se.handle()
	if err != nil {
		return err
	}

	for written := 0; written < len(data); {
		n, err := port.Write(data[written:])
		if err != nil {
			se.stats.recordError()
			se.logger.Error("Serial write failed",
				zap.Error(err),
				zap.Int("bytes_to_write", len(data)-written),
			)
			return fmt.Errorf("%w: %w", ErrSerialIO, err)
		}
		if n == 0 {
			se.stats.recordError()
			return fmt.Errorf("%w: incomplete write: wrote %d of %d bytes", ErrSerialIO, written, len(data))
		}
		written += n
	}

	se.stats.recordWrite(len(data))
	return nil
}

// Path returns the device path
func (se *SerialEndpoint) Path() string {
	return se.config.Port
}

// Stats returns a snapshot of the endpoint counters
func (se *SerialEndpoint) Stats() ProtocolStats {
	return se.stats.snapshot(se.IsOpen())
}
