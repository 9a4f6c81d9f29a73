// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// PortInfo describes a serial port found on the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// ListFunc enumerates ports. enumerator.GetDetailedPortsList satisfies it.
type ListFunc func() ([]*enumerator.PortDetails, error)

// Config for serial scanner
type Config struct {
	PortPatterns []string `json:"port_patterns"`
}

// Scanner implements serial port discovery
type Scanner struct {
	logger *zap.Logger
	config *Config
	list   ListFunc
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{PortPatterns: getDefaultPortPatterns()}
	}

	return &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		config: config,
		list:   enumerator.GetDetailedPortsList,
	}
}

// WithLister replaces the OS enumerator, mainly for tests
func (s *Scanner) WithLister(list ListFunc) *Scanner {
	s.list = list
	return s
}

// Scan lists the serial ports matching the configured patterns
func (s *Scanner) Scan(ctx context.Context) ([]PortInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil || !s.matches(d.Name) {
			continue
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

// matches reports whether name passes the pattern filter. No patterns
// means every port matches.
func (s *Scanner) matches(name string) bool {
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// getDefaultPortPatterns returns the device names glider modems show up as
func getDefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"COM*"}
	case "darwin":
		return []string{"/dev/tty.*", "/dev/cu.*"}
	default:
		return []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyAMA*", "/dev/serial/by-id/*", "/dev/pts/*"}
	}
}
