// internal/bridge/idle_test.go
package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleMonitor(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewIdleMonitor(10*time.Second, t0)

	assert.Equal(t, 10*time.Second, m.Threshold())
	assert.False(t, m.IsExpired(t0.Add(9*time.Second)))
	assert.True(t, m.IsExpired(t0.Add(10*time.Second)))

	m.Touch(t0.Add(5 * time.Second))
	assert.False(t, m.IsExpired(t0.Add(10*time.Second)))
	assert.Equal(t, 7*time.Second, m.Elapsed(t0.Add(12*time.Second)))
	assert.True(t, m.IsExpired(t0.Add(15*time.Second)))
}

func TestIdleMonitorDisabled(t *testing.T) {
	t0 := time.Now()
	m := NewIdleMonitor(0, t0)
	assert.False(t, m.IsExpired(t0.Add(1000*time.Hour)))
}

func TestIdleMonitorReset(t *testing.T) {
	m := NewIdleMonitor(time.Minute, time.Now().Add(-2*time.Minute))
	assert.True(t, m.IsExpired(time.Now()))

	m.Reset()
	assert.False(t, m.IsExpired(time.Now()))
}
