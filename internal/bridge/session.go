// internal/bridge/session.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"serial2rudics/internal/model"
	"serial2rudics/internal/protocol"
	"serial2rudics/internal/utils"
)

// Session termination errors that are not endpoint errors
var (
	ErrIdleExpired = errors.New("idle timeout expired")
	ErrMaxOpenTime = errors.New("maximum connection time reached")
)

// DefaultBufferSize is the read chunk size of each copy direction
const DefaultBufferSize = 4096

// SerialPort is the serial leg as seen by the bridge
type SerialPort interface {
	Read(buffer []byte) (int, error)
	Write(data []byte) error
}

// NetworkConn is the dockserver leg as seen by the bridge
type NetworkConn interface {
	Connect(ctx context.Context) error
	Read(buffer []byte, wait time.Duration) (int, error)
	Write(data []byte) error
	Close() error
	State() model.ConnectionState
	RemoteAddr() string
}

// SessionOptions configures a single bridge session
type SessionOptions struct {
	PollInterval time.Duration
	MaxOpenTime  time.Duration
	BufferSize   int
	Pacer        *Pacer
	Transcript   *Transcript
}

// Result describes how a session ended
type Result struct {
	SessionID      uuid.UUID              `json:"session_id"`
	Reason         model.DisconnectReason `json:"reason"`
	StartedAt      time.Time              `json:"started_at"`
	Duration       time.Duration          `json:"duration"`
	BytesToNetwork int64                  `json:"bytes_to_network"`
	BytesToSerial  int64                  `json:"bytes_to_serial"`
}

// Session relays bytes between an open serial port and a connected network
// endpoint until the first terminal condition. A Session runs once.
type Session struct {
	id      uuid.UUID
	serial  SerialPort
	network NetworkConn
	idle    *IdleMonitor
	opts    SessionOptions
	logger  *utils.SessionLogger

	startedAt      time.Time
	bytesToNetwork atomic.Int64
	bytesToSerial  atomic.Int64

	once   sync.Once
	reason model.DisconnectReason
	err    error
	cancel context.CancelFunc
}

// NewSession creates a session over already opened endpoints
func NewSession(serial SerialPort, network NetworkConn, idle *IdleMonitor, opts SessionOptions, logger *zap.Logger) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = protocol.DefaultPollInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	device := ""
	if p, ok := serial.(interface{ Path() string }); ok {
		device = p.Path()
	}

	id := uuid.New()
	return &Session{
		id:      id,
		serial:  serial,
		network: network,
		idle:    idle,
		opts:    opts,
		logger:  utils.NewSessionLogger(logger, id.String(), network.RemoteAddr(), device),
	}
}

// ID returns the session identifier
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run relays until a terminal condition and returns why the session ended.
// The network endpoint is closed before Run returns. The error is non-nil
// for endpoint failures and timeouts, and wraps protocol.ErrSerialIO when
// the serial line died.
func (s *Session) Run(ctx context.Context) (Result, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.startedAt = time.Now()

	s.logger.LogStart(s.idle.Threshold())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.serialToNetwork(sessionCtx)
	}()
	go func() {
		defer wg.Done()
		s.networkToSerial(sessionCtx)
	}()
	wg.Wait()

	if err := s.network.Close(); err != nil {
		s.logger.Debug("Closing network endpoint after session", zap.Error(err))
	}

	result := Result{
		SessionID:      s.id,
		Reason:         s.reason,
		StartedAt:      s.startedAt,
		Duration:       time.Since(s.startedAt),
		BytesToNetwork: s.bytesToNetwork.Load(),
		BytesToSerial:  s.bytesToSerial.Load(),
	}

	s.logger.LogEnd(result.Reason.String(), result.Reason.IsFatal(),
		result.BytesToNetwork, result.BytesToSerial, s.err)

	return result, s.err
}

// finish records the first terminal condition and stops the other direction
func (s *Session) finish(reason model.DisconnectReason, err error) {
	s.once.Do(func() {
		s.reason = reason
		s.err = err
		s.cancel()
		// A write stalled on a peer that stopped reading only returns once
		// the socket is closed
		if cerr := s.network.Close(); cerr != nil {
			s.logger.Debug("Closing network endpoint on session end", zap.Error(cerr))
		}
	})
}

// stopped reports whether the session must end, recording shutdown, idle
// expiry or maximum lifetime as the reason when it is the first to notice.
func (s *Session) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.finish(model.ReasonShutdown, nil)
		return true
	}

	now := time.Now()
	if s.idle.IsExpired(now) {
		s.finish(model.ReasonIdleExpired,
			fmt.Errorf("%w: no network traffic for %s", ErrIdleExpired, s.idle.Elapsed(now).Truncate(time.Millisecond)))
		return true
	}
	if s.opts.MaxOpenTime > 0 && now.Sub(s.startedAt) >= s.opts.MaxOpenTime {
		s.finish(model.ReasonMaxOpenTime, fmt.Errorf("%w: open for %s", ErrMaxOpenTime, s.opts.MaxOpenTime))
		return true
	}
	return false
}

// networkReason maps a network error onto a disconnect reason
func networkReason(err error) model.DisconnectReason {
	if errors.Is(err, protocol.ErrConnectionClosed) {
		return model.ReasonNetworkClosed
	}
	return model.ReasonNetworkError
}

func (s *Session) serialToNetwork(ctx context.Context) {
	buffer := make([]byte, s.opts.BufferSize)
	for !s.stopped(ctx) {
		n, readErr := s.serial.Read(buffer)
		if n > 0 {
			data := buffer[:n]
			if err := s.opts.Transcript.Record(model.DirectionSerialToNetwork, data); err != nil {
				s.logger.Warn("Transcript write failed", zap.Error(err))
			}

			if err := s.opts.Pacer.Write(ctx, s.network.Write, data); err != nil {
				if ctx.Err() != nil {
					s.finish(model.ReasonShutdown, nil)
					return
				}
				s.logger.Debug("Discarding serial bytes after network write failure", zap.Int("bytes", n))
				s.finish(networkReason(err), err)
				return
			}

			s.idle.Reset()
			s.bytesToNetwork.Add(int64(n))
			s.logger.Debug("Relayed bytes",
				zap.String("direction", string(model.DirectionSerialToNetwork)),
				zap.Int("bytes", n),
			)
		}

		if readErr != nil {
			s.finish(model.ReasonSerialError, readErr)
			return
		}
	}
}

func (s *Session) networkToSerial(ctx context.Context) {
	buffer := make([]byte, s.opts.BufferSize)
	for !s.stopped(ctx) {
		n, readErr := s.network.Read(buffer, s.opts.PollInterval)
		if n > 0 {
			data := buffer[:n]
			s.idle.Reset()
			if err := s.opts.Transcript.Record(model.DirectionNetworkToSerial, data); err != nil {
				s.logger.Warn("Transcript write failed", zap.Error(err))
			}

			if err := s.serial.Write(data); err != nil {
				s.finish(model.ReasonSerialError, err)
				return
			}

			s.bytesToSerial.Add(int64(n))
			s.logger.Debug("Relayed bytes",
				zap.String("direction", string(model.DirectionNetworkToSerial)),
				zap.Int("bytes", n),
			)
		}

		if readErr != nil {
			if ctx.Err() != nil {
				s.finish(model.ReasonShutdown, nil)
				return
			}
			s.finish(networkReason(readErr), readErr)
			return
		}
	}
}
