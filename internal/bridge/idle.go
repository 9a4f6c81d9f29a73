// internal/bridge/idle.go
package bridge

import (
	"time"

	"go.uber.org/atomic"
)

// IdleMonitor tracks the last network activity of a session. Both copy
// directions touch it concurrently.
type IdleMonitor struct {
	threshold time.Duration
	last      atomic.Int64
}

// NewIdleMonitor creates a monitor whose clock starts at now. A threshold
// of zero or less never expires.
func NewIdleMonitor(threshold time.Duration, now time.Time) *IdleMonitor {
	m := &IdleMonitor{threshold: threshold}
	m.last.Store(now.UnixNano())
	return m
}

// Reset records network activity at the current time
func (m *IdleMonitor) Reset() {
	m.Touch(time.Now())
}

// Touch records network activity at t
func (m *IdleMonitor) Touch(t time.Time) {
	m.last.Store(t.UnixNano())
}

// Elapsed returns the time since the last activity
func (m *IdleMonitor) Elapsed(now time.Time) time.Duration {
	return time.Duration(now.UnixNano() - m.last.Load())
}

// IsExpired reports whether no activity happened for at least the threshold
func (m *IdleMonitor) IsExpired(now time.Time) bool {
	if m.threshold <= 0 {
		return false
	}
	return m.Elapsed(now) >= m.threshold
}

// Threshold returns the configured idle timeout
func (m *IdleMonitor) Threshold() time.Duration {
	return m.threshold
}
