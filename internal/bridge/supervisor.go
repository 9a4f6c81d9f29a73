// internal/bridge/supervisor.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"serial2rudics/internal/model"
	"serial2rudics/internal/protocol"
)

// EventSink receives bridge state transitions. Publish must not block.
type EventSink interface {
	Publish(event model.BridgeEvent)
}

// Options configures the reconnect supervisor
type Options struct {
	PollInterval time.Duration
	IdleTimeout  time.Duration
	MaxOpenTime  time.Duration
	MaxOpenDelay time.Duration
	Spacing      time.Duration
	Retry        RetryPolicy
	BufferSize   int
	Pacer        *Pacer
	Transcript   *Transcript
}

// DefaultOptions returns the bridge defaults
func DefaultOptions() Options {
	return Options{
		PollInterval: protocol.DefaultPollInterval,
		IdleTimeout:  time.Hour,
		MaxOpenTime:  24 * time.Hour,
		MaxOpenDelay: 30 * time.Minute,
		Spacing:      10 * time.Second,
		Retry:        DefaultRetryPolicy(),
		BufferSize:   DefaultBufferSize,
	}
}

// Status is a point-in-time view of the supervisor
type Status struct {
	State               model.ConnectionState   `json:"state"`
	Running             bool                    `json:"running"`
	SessionID           string                  `json:"session_id,omitempty"`
	SessionStartedAt    *time.Time              `json:"session_started_at,omitempty"`
	RemoteAddr          string                  `json:"remote_addr,omitempty"`
	Sessions            int64                   `json:"sessions"`
	ConnectAttempts     int64                   `json:"connect_attempts"`
	ConsecutiveFailures int64                   `json:"consecutive_failures"`
	DiscardedBytes      int64                   `json:"discarded_serial_bytes"`
	LastDisconnect      model.DisconnectReason  `json:"last_disconnect,omitempty"`
	LastError           string                  `json:"last_error,omitempty"`
	NextAttemptAt       *time.Time              `json:"next_attempt_at,omitempty"`
	Serial              *protocol.ProtocolStats `json:"serial,omitempty"`
	Network             *protocol.ProtocolStats `json:"network,omitempty"`
}

// statsProvider is implemented by the protocol endpoints
type statsProvider interface {
	Stats() protocol.ProtocolStats
}

// Supervisor keeps the serial line bridged to the dockserver, reconnecting
// after every non-fatal session end. It owns the network endpoint; the
// serial endpoint is opened and closed by the caller.
type Supervisor struct {
	serial  SerialPort
	network NetworkConn
	opts    Options
	sink    EventSink
	logger  *zap.Logger

	running             atomic.Bool
	sessions            atomic.Int64
	connectAttempts     atomic.Int64
	consecutiveFailures atomic.Int64
	discardedBytes      atomic.Int64

	mutex          sync.RWMutex
	sessionID      string
	sessionStarted time.Time
	lastDisconnect model.DisconnectReason
	lastError      string
	nextAttempt    time.Time
}

// NewSupervisor creates a new reconnect supervisor. sink may be nil.
func NewSupervisor(serial SerialPort, network NetworkConn, opts Options, logger *zap.Logger, sink EventSink) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = protocol.DefaultPollInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Supervisor{
		serial:  serial,
		network: network,
		opts:    opts,
		sink:    sink,
		logger:  logger.With(zap.String("component", "supervisor")),
	}
}

// Run bridges until ctx is cancelled, returning nil, or until the serial
// line fails, returning an error wrapping the serial error class. Network
// errors never escape Run.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}
	defer s.running.Store(false)

	s.logger.Info("Supervisor started",
		zap.Duration("idle_timeout", s.opts.IdleTimeout),
		zap.Duration("retry_interval", s.opts.Retry.Interval),
		zap.Duration("reconnect_spacing", s.opts.Spacing),
	)

	err := s.loop(ctx)

	if closeErr := s.network.Close(); closeErr != nil {
		s.logger.Debug("Closing network endpoint on exit", zap.Error(closeErr))
	}

	event := model.NewBridgeEvent(model.EventSupervisorStop, model.StateDisconnected)
	if err != nil {
		s.logger.Error("Supervisor stopped on serial failure", zap.Error(err))
		s.publish(event.WithError(err))
		return err
	}

	s.logger.Info("Supervisor stopped")
	s.publish(event)
	return nil
}

func (s *Supervisor) loop(ctx context.Context) error {
	drain := s.startDrain(ctx)
	defer func() {
		drain.stop()
	}()

	for {
		if err := drain.failure(); err != nil {
			return s.serialFailure(err)
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := s.connect(ctx, drain); err != nil {
			if derr := drain.failure(); derr != nil {
				return s.serialFailure(derr)
			}
			if ctx.Err() != nil {
				return nil
			}

			failures := s.consecutiveFailures.Inc()
			wait := s.opts.Retry.Next(int(failures))
			s.recordError(err)
			s.logger.Warn("Failed to connect to dockserver",
				zap.Error(err),
				zap.Int64("consecutive_failures", failures),
				zap.Duration("retry_in", wait),
			)
			s.publish(model.NewBridgeEvent(model.EventConnectFailed, model.StateDisconnected).
				WithError(err).
				WithData("consecutive_failures", failures).
				WithData("retry_in_seconds", wait.Seconds()))

			if err := s.wait(ctx, wait, drain); err != nil {
				return s.waitResult(err)
			}
			continue
		}

		s.consecutiveFailures.Store(0)

		// Hand the serial line over from the drain to the session
		if err := drain.stop(); err != nil {
			return s.serialFailure(err)
		}

		result, err := s.runSession(ctx)

		if result.Reason.IsFatal() {
			return s.serialFailure(err)
		}
		if result.Reason == model.ReasonShutdown || ctx.Err() != nil {
			return nil
		}

		drain = s.startDrain(ctx)

		wait := s.opts.Spacing
		if result.Reason == model.ReasonMaxOpenTime && s.opts.MaxOpenDelay > wait {
			wait = s.opts.MaxOpenDelay
		}
		if err := s.wait(ctx, wait, drain); err != nil {
			return s.waitResult(err)
		}
	}
}

// connect dials the dockserver, aborting early if the serial line dies
func (s *Supervisor) connect(ctx context.Context, drain *drainer) error {
	attempt := s.connectAttempts.Inc()
	s.logger.Info("Connecting to dockserver", zap.Int64("attempt", attempt))
	s.publish(model.NewBridgeEvent(model.EventConnectAttempt, model.StateConnecting).
		WithData("attempt", attempt))

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-drain.done:
			cancel()
		case <-connectCtx.Done():
		}
	}()

	return s.network.Connect(connectCtx)
}

func (s *Supervisor) runSession(ctx context.Context) (Result, error) {
	session := NewSession(s.serial, s.network,
		NewIdleMonitor(s.opts.IdleTimeout, time.Now()),
		SessionOptions{
			PollInterval: s.opts.PollInterval,
			MaxOpenTime:  s.opts.MaxOpenTime,
			BufferSize:   s.opts.BufferSize,
			Pacer:        s.opts.Pacer,
			Transcript:   s.opts.Transcript,
		},
		s.logger,
	)

	sessionID := session.ID().String()
	remote := s.network.RemoteAddr()
	s.sessions.Inc()

	s.mutex.Lock()
	s.sessionID = sessionID
	s.sessionStarted = time.Now()
	s.nextAttempt = time.Time{}
	s.mutex.Unlock()

	s.logger.Info("Connected to dockserver",
		zap.String("session_id", sessionID),
		zap.String("remote_addr", remote),
	)
	connected := model.NewBridgeEvent(model.EventConnected, model.StateConnected).
		WithData("remote_addr", remote)
	connected.SessionID = sessionID
	s.publish(connected)

	result, err := session.Run(ctx)

	s.mutex.Lock()
	s.sessionID = ""
	s.sessionStarted = time.Time{}
	s.lastDisconnect = result.Reason
	if err != nil {
		s.lastError = err.Error()
	}
	s.mutex.Unlock()

	disconnected := model.NewBridgeEvent(model.EventDisconnected, model.StateDisconnected).
		WithError(err).
		WithData("duration_seconds", result.Duration.Seconds()).
		WithData("bytes_to_network", result.BytesToNetwork).
		WithData("bytes_to_serial", result.BytesToSerial)
	disconnected.SessionID = sessionID
	disconnected.Reason = result.Reason
	s.publish(disconnected)

	return result, err
}

// wait sleeps for d while the drain watches the serial line. It returns
// nil when the full wait elapsed.
func (s *Supervisor) wait(ctx context.Context, d time.Duration, drain *drainer) error {
	if d <= 0 {
		return nil
	}

	next := time.Now().Add(d)
	s.mutex.Lock()
	s.nextAttempt = next
	s.mutex.Unlock()

	s.logger.Info("Waiting before reconnecting", zap.Duration("delay", d))
	s.publish(model.NewBridgeEvent(model.EventReconnectWait, model.StateDisconnected).
		WithData("delay_seconds", d.Seconds()))

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-drain.done:
		if err := drain.failure(); err != nil {
			return err
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitResult turns an interrupted wait into the loop's return value
func (s *Supervisor) waitResult(err error) error {
	if protocol.IsFatal(err) {
		return s.serialFailure(err)
	}
	return nil
}

func (s *Supervisor) serialFailure(err error) error {
	s.recordError(err)
	s.publish(model.NewBridgeEvent(model.EventSerialFailed, model.StateDisconnected).WithError(err))
	if !protocol.IsFatal(err) {
		err = fmt.Errorf("%w: %w", protocol.ErrSerialIO, err)
	}
	return err
}

func (s *Supervisor) recordError(err error) {
	s.mutex.Lock()
	s.lastError = err.Error()
	s.mutex.Unlock()
}

func (s *Supervisor) publish(event model.BridgeEvent) {
	if s.sink != nil {
		s.sink.Publish(event)
	}
}

// Status returns a snapshot of the supervisor state
func (s *Supervisor) Status() Status {
	status := Status{
		State:               s.network.State(),
		Running:             s.running.Load(),
		RemoteAddr:          s.network.RemoteAddr(),
		Sessions:            s.sessions.Load(),
		ConnectAttempts:     s.connectAttempts.Load(),
		ConsecutiveFailures: s.consecutiveFailures.Load(),
		DiscardedBytes:      s.discardedBytes.Load(),
	}

	s.mutex.RLock()
	status.SessionID = s.sessionID
	if !s.sessionStarted.IsZero() {
		started := s.sessionStarted
		status.SessionStartedAt = &started
	}
	if !s.nextAttempt.IsZero() {
		next := s.nextAttempt
		status.NextAttemptAt = &next
	}
	status.LastDisconnect = s.lastDisconnect
	status.LastError = s.lastError
	s.mutex.RUnlock()

	if sp, ok := s.serial.(statsProvider); ok {
		stats := sp.Stats()
		status.Serial = &stats
	}
	if sp, ok := s.network.(statsProvider); ok {
		stats := sp.Stats()
		status.Network = &stats
	}
	return status
}

// drainer reads and discards serial bytes while no session is live, so a
// dead device is noticed between sessions too.
type drainer struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (s *Supervisor) startDrain(ctx context.Context) *drainer {
	drainCtx, cancel := context.WithCancel(ctx)
	d := &drainer{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(d.done)
		buffer := make([]byte, s.opts.BufferSize)
		for drainCtx.Err() == nil {
			n, err := s.serial.Read(buffer)
			if n > 0 {
				s.discardedBytes.Add(int64(n))
				s.logger.Debug("Discarding serial bytes while disconnected", zap.Int("bytes", n))
			}
			if err != nil {
				d.err = err
				return
			}
		}
	}()

	return d
}

// stop ends the drain and waits for its reader to return
func (d *drainer) stop() error {
	d.cancel()
	<-d.done
	return d.err
}

// failure returns the serial error if the drain has died
func (d *drainer) failure() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}
