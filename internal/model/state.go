// internal/model/state.go
package model

// ConnectionState represents the lifecycle state of the dockserver connection
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
)

// String implements fmt.Stringer
func (s ConnectionState) String() string {
	return string(s)
}

// DisconnectReason explains why a bridge session ended
type DisconnectReason string

const (
	ReasonNone          DisconnectReason = ""
	ReasonSerialError   DisconnectReason = "SERIAL_ERROR"
	ReasonNetworkError  DisconnectReason = "NETWORK_ERROR"
	ReasonNetworkClosed DisconnectReason = "NETWORK_CLOSED"
	ReasonIdleExpired   DisconnectReason = "IDLE_EXPIRED"
	ReasonMaxOpenTime   DisconnectReason = "MAX_OPEN_TIME"
	ReasonShutdown      DisconnectReason = "SHUTDOWN"
)

// String implements fmt.Stringer
func (r DisconnectReason) String() string {
	return string(r)
}

// IsFatal reports whether the reason must terminate the process
func (r DisconnectReason) IsFatal() bool {
	return r == ReasonSerialError
}

// Direction identifies one leg of the relay
type Direction string

const (
	DirectionSerialToNetwork Direction = "serial->network"
	DirectionNetworkToSerial Direction = "network->serial"
)
