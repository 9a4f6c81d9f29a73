// internal/protocol/protocol.go
package protocol

import (
	"time"

	"go.uber.org/atomic"
)

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64     `json:"bytes_written"`
	BytesRead      int64     `json:"bytes_read"`
	OperationCount int64     `json:"operation_count"`
	ErrorCount     int64     `json:"error_count"`
	LastActivity   time.Time `json:"last_activity"`
	IsConnected    bool      `json:"is_connected"`
}

// statCounters is the lock-free backing store for ProtocolStats. Both copy
// directions update it concurrently.
type statCounters struct {
	bytesWritten   atomic.Int64
	bytesRead      atomic.Int64
	operationCount atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Time
}

func (s *statCounters) recordRead(n int) {
	s.bytesRead.Add(int64(n))
	s.operationCount.Inc()
	s.lastActivity.Store(time.Now())
}

func (s *statCounters) recordWrite(n int) {
	s.bytesWritten.Add(int64(n))
	s.operationCount.Inc()
	s.lastActivity.Store(time.Now())
}

func (s *statCounters) recordError() {
	s.errorCount.Inc()
}

func (s *statCounters) snapshot(connected bool) ProtocolStats {
	return ProtocolStats{
		BytesWritten:   s.bytesWritten.Load(),
		BytesRead:      s.bytesRead.Load(),
		OperationCount: s.operationCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		LastActivity:   s.lastActivity.Load(),
		IsConnected:    connected,
	}
}
