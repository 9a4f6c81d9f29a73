//go:build linux

// internal/simulator/faux_serial.go
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultDrainTimeout is how long a FauxSerial waits for more output
// from the bridge once its input is exhausted
const DefaultDrainTimeout = 10 * time.Second

// FauxSerial emulates a serial device with a pseudo terminal. Its input is
// written to the master side, so it arrives on the slave as if a modem had
// sent it, and whatever is written to the slave is copied to its output.
type FauxSerial struct {
	master       *os.File
	slave        *os.File
	slavePath    string
	input        io.Reader
	output       io.Writer
	drainTimeout time.Duration
	logger       *zap.Logger

	started   atomic.Bool
	written   atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewFauxSerial allocates a pty pair. input may be nil; a nil output
// discards what the bridge sends.
func NewFauxSerial(input io.Reader, output io.Writer, drainTimeout time.Duration, logger *zap.Logger) (*FauxSerial, error) {
	master, slave, err := openPTY()
	if err != nil {
		return nil, fmt.Errorf("failed to create pseudo terminal: %w", err)
	}
	if output == nil {
		output = io.Discard
	}
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	return &FauxSerial{
		master:       master,
		slave:        slave,
		slavePath:    slave.Name(),
		input:        input,
		output:       output,
		drainTimeout: drainTimeout,
		logger:       logger.With(zap.String("component", "faux-serial"), zap.String("device", slave.Name())),
		done:         make(chan struct{}),
	}, nil
}

// openPTY allocates a master/slave pair through /dev/ptmx and puts the
// slave line discipline into raw mode so nothing is echoed or buffered.
// The slave stays open for the simulator's lifetime so the master never
// reports a hangup between bridge sessions.
func openPTY() (*os.File, *os.File, error) {
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open /dev/ptmx: %w", err)
	}

	var ptyNumber int
	err = control(master, func(fd int) error {
		var err error
		if ptyNumber, err = unix.IoctlGetInt(fd, unix.TIOCGPTN); err != nil {
			return fmt.Errorf("get PTY number (TIOCGPTN): %w", err)
		}
		if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
			return fmt.Errorf("unlock PTY slave (TIOCSPTLCK): %w", err)
		}
		return nil
	})
	if err != nil {
		master.Close()
		return nil, nil, err
	}

	slavePath := fmt.Sprintf("/dev/pts/%d", ptyNumber)
	slave, err := os.OpenFile(slavePath, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		return nil, nil, fmt.Errorf("open PTY slave: %w", err)
	}

	err = control(slave, func(fd int) error {
		termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
		if err != nil {
			return err
		}
		makeRaw(termios)
		return unix.IoctlSetTermios(fd, unix.TCSETS, termios)
	})
	if err != nil {
		slave.Close()
		master.Close()
		return nil, nil, fmt.Errorf("set PTY raw mode: %w", err)
	}

	return master, slave, nil
}

// control runs fn on the file's descriptor without taking it out of the
// runtime poller, so deadlines and Close keep interrupting reads
func control(file *os.File, fn func(fd int) error) error {
	rc, err := file.SyscallConn()
	if err != nil {
		return err
	}
	var fnErr error
	if err := rc.Control(func(fd uintptr) {
		fnErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return fnErr
}

// makeRaw applies the cfmakeraw settings
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

// Path returns the slave device to open as the serial port
func (f *FauxSerial) Path() string {
	return f.slavePath
}

// Written returns the number of bytes copied to the output
func (f *FauxSerial) Written() int64 {
	return f.written.Load()
}

// Done is closed once the simulator has shut down
func (f *FauxSerial) Done() <-chan struct{} {
	return f.done
}

// Start feeds the input and collects output in the background. The
// simulator shuts itself down when ctx is cancelled or once the input is
// exhausted and no output has arrived for the drain timeout.
func (f *FauxSerial) Start(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	f.logger.Info("Simulated serial device ready")

	inputDone := make(chan struct{})
	if f.input != nil {
		go func() {
			defer close(inputDone)
			n, err := io.Copy(f.master, f.input)
			if err != nil && !errors.Is(err, os.ErrClosed) {
				f.logger.Warn("Simulated serial input failed", zap.Error(err))
			}
			f.logger.Info("Simulated serial input exhausted", zap.Int64("bytes", n))
		}()
	} else {
		close(inputDone)
	}

	activity := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buffer := make([]byte, 4096)
		for {
			n, err := f.master.Read(buffer)
			if n > 0 {
				if _, werr := f.output.Write(buffer[:n]); werr != nil {
					f.logger.Error("Simulated serial output failed", zap.Error(werr))
					return
				}
				f.written.Add(int64(n))
				select {
				case activity <- struct{}{}:
				default:
				}
			}
			if err != nil {
				f.logger.Debug("Simulated serial master read ended", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(f.done)
		f.watch(ctx, inputDone, readDone, activity)
		f.closeMaster()
		<-readDone
		<-inputDone
		f.logger.Info("Simulated serial device stopped", zap.Int64("written", f.Written()))
	}()
}

// watch blocks until the simulator should stop
func (f *FauxSerial) watch(ctx context.Context, inputDone, readDone <-chan struct{}, activity <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-readDone:
		return
	case <-inputDone:
	}

	timer := time.NewTimer(f.drainTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(f.drainTimeout)
		case <-timer.C:
			f.logger.Info("Simulated serial device shutting down after drain timeout",
				zap.Duration("drain_timeout", f.drainTimeout),
			)
			return
		}
	}
}

func (f *FauxSerial) closeMaster() {
	f.closeOnce.Do(func() {
		if err := f.master.Close(); err != nil {
			f.logger.Debug("Closing PTY master", zap.Error(err))
		}
		f.slave.Close()
	})
}

// Close shuts the simulator down and waits for it to finish
func (f *FauxSerial) Close() error {
	f.closeMaster()
	if f.started.Load() {
		<-f.done
	}
	return nil
}
