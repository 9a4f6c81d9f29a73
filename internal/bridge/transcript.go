// internal/bridge/transcript.go
package bridge

import (
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"serial2rudics/internal/model"
)

// Transcript records bridged traffic. Each chunk is written as a header
// line prefix naming its source and length, the raw bytes, then a newline.
type Transcript struct {
	mutex  sync.Mutex
	writer io.Writer
	closer io.Closer
}

// NewTranscript opens a rotating transcript file
func NewTranscript(filename string, maxSizeMB, maxBackups int) *Transcript {
	rotator := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	return &Transcript{writer: rotator, closer: rotator}
}

// NewTranscriptWriter records into an arbitrary writer
func NewTranscriptWriter(w io.Writer) *Transcript {
	t := &Transcript{writer: w}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// Record appends one chunk. A nil Transcript records nothing.
func (t *Transcript) Record(direction model.Direction, data []byte) error {
	if t == nil || len(data) == 0 {
		return nil
	}

	source := "SERIAL"
	if direction == model.DirectionNetworkToSerial {
		source = "RUDICS"
	}

	record := make([]byte, 0, len(data)+24)
	record = fmt.Appendf(record, "%s %d : ", source, len(data))
	record = append(record, data...)
	record = append(record, '\n')

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, err := t.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (t *Transcript) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.closer.Close()
}
