// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of bridge event
type EventType string

const (
	EventConnectAttempt EventType = "CONNECT_ATTEMPT"
	EventConnectFailed  EventType = "CONNECT_FAILED"
	EventConnected      EventType = "CONNECTED"
	EventDisconnected   EventType = "DISCONNECTED"
	EventReconnectWait  EventType = "RECONNECT_WAIT"
	EventSerialFailed   EventType = "SERIAL_FAILED"
	EventSupervisorStop EventType = "SUPERVISOR_STOPPED"
)

// BridgeEvent represents a state transition of the bridge
type BridgeEvent struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	State     ConnectionState        `json:"state"`
	Reason    DisconnectReason       `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewBridgeEvent creates an event stamped with a fresh id and the current time
func NewBridgeEvent(eventType EventType, state ConnectionState) BridgeEvent {
	return BridgeEvent{
		ID:        uuid.New(),
		Type:      eventType,
		State:     state,
		Timestamp: time.Now(),
	}
}

// WithError attaches an error message to the event
func (e BridgeEvent) WithError(err error) BridgeEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithData attaches a key/value pair to the event
func (e BridgeEvent) WithData(key string, value interface{}) BridgeEvent {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}
