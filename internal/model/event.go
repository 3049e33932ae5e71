// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventScanCompleted EventType = "scan.completed"
	EventDeviceOpened  EventType = "device.opened"
	EventDeviceClosed  EventType = "device.closed"
	EventDeviceCommand EventType = "device.command"
)

// Severity levels
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// DeviceEvent represents an event in the system
type DeviceEvent struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	Device    string                 `json:"device,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Severity  string                 `json:"severity"`
}

// NewDeviceEvent stamps a new event with an ID and the current time
func NewDeviceEvent(eventType EventType, deviceName string, severity string, data map[string]interface{}) DeviceEvent {
	return DeviceEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Device:    deviceName,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "serial-device",
		Severity:  severity,
	}
}
