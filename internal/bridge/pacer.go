// internal/bridge/pacer.go
package bridge

import (
	"context"

	"golang.org/x/time/rate"
)

// bitsPerByte is one start bit plus eight data bits
const bitsPerByte = 9

// Pacer limits the byte rate towards the dockserver to emulate a modem
// link of a given baud rate.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns nil when baud is not positive, which disables pacing
func NewPacer(baud int) *Pacer {
	if baud <= 0 {
		return nil
	}

	bytesPerSecond := baud / bitsPerByte
	if bytesPerSecond < 1 {
		bytesPerSecond = 1
	}

	// A tenth of a second worth of bytes per chunk
	burst := bytesPerSecond / 10
	if burst < 1 {
		burst = 1
	}

	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

// BytesPerSecond returns the paced rate
func (p *Pacer) BytesPerSecond() float64 {
	if p == nil {
		return 0
	}
	return float64(p.limiter.Limit())
}

// Write hands data to write in chunks no larger than the limiter burst,
// waiting for tokens before each chunk. A nil Pacer writes straight through.
func (p *Pacer) Write(ctx context.Context, write func([]byte) error, data []byte) error {
	if p == nil {
		return write(data)
	}

	burst := p.limiter.Burst()
	for len(data) > 0 {
		n := len(data)
		if n > burst {
			n = burst
		}
		if err := p.limiter.WaitN(ctx, n); err != nil {
			return err
		}
		if err := write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
