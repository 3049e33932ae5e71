// internal/model/device.go
package model

import (
	"time"

	"github.com/google/uuid"

	"serial-device/internal/device"
	"serial-device/internal/discovery"
	"serial-device/internal/protocol"
)

// DeviceView is the API representation of a registered device
type DeviceView struct {
	Name   string             `json:"name"`
	Handle uuid.UUID          `json:"handle"`
	Port   discovery.PortInfo `json:"port"`
	Open   bool               `json:"open"`
	Stats  StatsView          `json:"stats"`
}

// StatsView mirrors protocol.Stats for JSON output
type StatsView struct {
	FramesWritten int64      `json:"frames_written"`
	FramesRead    int64      `json:"frames_read"`
	BytesWritten  int64      `json:"bytes_written"`
	BytesRead     int64      `json:"bytes_read"`
	ErrorCount    int64      `json:"error_count"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

// NewDeviceView builds the view of a registry record
func NewDeviceView(rec *device.Record) DeviceView {
	return DeviceView{
		Name:   rec.Name,
		Handle: rec.Channel.ID(),
		Port:   rec.Port,
		Open:   rec.Channel.IsOpen(),
		Stats:  newStatsView(rec.Channel.Stats()),
	}
}

func newStatsView(s protocol.Stats) StatsView {
	view := StatsView{
		FramesWritten: s.FramesWritten,
		FramesRead:    s.FramesRead,
		BytesWritten:  s.BytesWritten,
		BytesRead:     s.BytesRead,
		ErrorCount:    s.ErrorCount,
	}
	if !s.LastActivity.IsZero() {
		last := s.LastActivity
		view.LastActivity = &last
	}
	return view
}

// PortView is a candidate port with its position in probe order
type PortView struct {
	Order int `json:"order"`
	discovery.PortInfo
}

// ScanResult is returned by a completed scan
type ScanResult struct {
	Devices    []string  `json:"devices"`
	Count      int       `json:"count"`
	DurationMS int64     `json:"duration_ms"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// OpenState reports a device's channel state after open or close
type OpenState struct {
	Name string `json:"name"`
	Open bool   `json:"open"`
}

// SendRequest carries one outbound frame
type SendRequest struct {
	Payload string `json:"payload"`
}

// SendResult reports whether the frame was written
type SendResult struct {
	Name string `json:"name"`
	Sent bool   `json:"sent"`
}

// RecvResult reports one inbound read
type RecvResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Payload string `json:"payload"`
	Error   string `json:"error,omitempty"`
}

// CommandRequest is a send followed by a receive
type CommandRequest struct {
	Payload string `json:"payload"`
	Flush   bool   `json:"flush"`
}

// CommandResult holds the reply to a command
type CommandResult struct {
	Name       string `json:"name"`
	Payload    string `json:"payload"`
	Reply      string `json:"reply"`
	DurationMS int64  `json:"duration_ms"`
}

// ServiceStatus summarizes the registry for health checks
type ServiceStatus struct {
	Devices     int        `json:"devices"`
	OpenDevices int        `json:"open_devices"`
	Scanning    bool       `json:"scanning"`
	Ready       bool       `json:"ready"`
	LastScan    *time.Time `json:"last_scan,omitempty"`
}
