// internal/protocol/connection.go
package protocol

import "time"

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits float64       `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// TCPConfig represents TCP connection configuration
type TCPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	KeepAlive    bool          `json:"keep_alive"`
	Timeout      time.Duration `json:"timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// Default serial line settings of a Slocum glider modem line
const (
	DefaultBaudRate     = 115200
	DefaultDataBits     = 8
	DefaultStopBits     = 1
	DefaultParity       = "none"
	DefaultPollInterval = time.Second
)

// DefaultRUDICSPort is the dockserver's RUDICS listener port
const DefaultRUDICSPort = 6565
