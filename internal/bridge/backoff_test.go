// internal/bridge/backoff_test.go
package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyFixed(t *testing.T) {
	p := DefaultRetryPolicy()
	for failures := 0; failures < 10; failures++ {
		assert.Equal(t, 120*time.Second, p.Next(failures))
	}
}

func TestRetryPolicyMultiplier(t *testing.T) {
	p := RetryPolicy{Interval: time.Second, MaxInterval: 5 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Next(1))
	assert.Equal(t, 2*time.Second, p.Next(2))
	assert.Equal(t, 4*time.Second, p.Next(3))
	assert.Equal(t, 5*time.Second, p.Next(4))
	assert.Equal(t, 5*time.Second, p.Next(500))
}

func TestRetryPolicyZeroInterval(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Next(3))
}
