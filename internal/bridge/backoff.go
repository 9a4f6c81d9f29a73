// internal/bridge/backoff.go
package bridge

import (
	"math"
	"time"
)

// RetryPolicy decides how long to wait before the next connect attempt.
// With Multiplier <= 1 it is a fixed interval. It never gives up.
type RetryPolicy struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// DefaultRetryPolicy waits a fixed two minutes between connect attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    120 * time.Second,
		MaxInterval: 120 * time.Second,
		Multiplier:  1,
	}
}

// Next returns the wait after the given number of consecutive failures
func (p RetryPolicy) Next(failures int) time.Duration {
	if p.Interval <= 0 {
		return 0
	}
	if failures < 1 || p.Multiplier <= 1 {
		return p.Interval
	}

	wait := float64(p.Interval) * math.Pow(p.Multiplier, float64(failures-1))
	if p.MaxInterval > 0 && wait > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if wait > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}
