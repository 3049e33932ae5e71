// internal/discovery/ports.go
package discovery

import (
	"fmt"
	"path/filepath"
	"sort"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// PortInfo describes one candidate port.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Description  string `json:"description,omitempty"`
}

// PortSource enumerates candidate ports in probe order.
type PortSource interface {
	ListPorts() ([]PortInfo, error)
}

// EnumeratorSource lists the host's serial ports through the OS enumerator.
type EnumeratorSource struct {
	patterns []string
	list     func() ([]*enumerator.PortDetails, error)
	logger   *zap.Logger
}

// NewEnumeratorSource creates a port source. When patterns is non-empty only
// ports whose full path or base name matches one of the globs are listed.
func NewEnumeratorSource(patterns []string, logger *zap.Logger) *EnumeratorSource {
	return &EnumeratorSource{
		patterns: patterns,
		list:     enumerator.GetDetailedPortsList,
		logger:   logger.With(zap.String("component", "port-source")),
	}
}

// ListPorts returns the matching ports in reverse of the host's natural
// order, so the most recently attached adapters are probed first.
func (s *EnumeratorSource) ListPorts() ([]PortInfo, error) {
	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if !matchesAny(s.patterns, d.Name) {
			continue
		}
		info := PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		}
		if d.IsUSB {
			info.Description = describeUSBBridge(d.VID, d.PID)
		}
		ports = append(ports, info)
	}

	reverseNatural(ports)
	s.logger.Debug("Serial ports enumerated", zap.Int("count", len(ports)))
	return ports, nil
}

// StaticSource lists a fixed set of port names.
type StaticSource []string

// ListPorts returns the names in reverse natural order.
func (s StaticSource) ListPorts() ([]PortInfo, error) {
	ports := make([]PortInfo, 0, len(s))
	for _, name := range s {
		ports = append(ports, PortInfo{Name: name})
	}
	reverseNatural(ports)
	return ports, nil
}

func reverseNatural(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].Name > ports[j].Name
	})
}

func matchesAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	base := filepath.Base(name)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
