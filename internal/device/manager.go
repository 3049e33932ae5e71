// internal/device/manager.go
package device

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"serial-device/internal/config"
	"serial-device/internal/discovery"
	"serial-device/internal/protocol"
	"serial-device/internal/utils"
)

// Options is the fixed configuration of a Manager.
type Options struct {
	IDPrefix            string
	BaudRate            int
	Terminator          string
	Encoding            string
	Timeout             time.Duration
	OpenDelay           time.Duration
	CloseDelay          time.Duration
	PortPatterns        []string
	MaxConcurrentProbes int
}

// DefaultOptions returns the stock configuration: any name, 115200 baud,
// EOT-terminated UTF-8 frames, 2s I/O timeout, 2s open and 1s close settle.
func DefaultOptions() Options {
	return Options{
		BaudRate:   115200,
		Terminator: "\x04",
		Encoding:   "utf-8",
		Timeout:    2 * time.Second,
		OpenDelay:  2 * time.Second,
		CloseDelay: time.Second,
	}
}

// OptionsFromConfig maps the device config section onto Options.
func OptionsFromConfig(cfg config.DeviceConfig) Options {
	return Options{
		IDPrefix:            cfg.IDPrefix,
		BaudRate:            cfg.BaudRate,
		Terminator:          cfg.Terminator,
		Encoding:            cfg.Encoding,
		Timeout:             cfg.Timeout,
		OpenDelay:           cfg.OpenDelay,
		CloseDelay:          cfg.CloseDelay,
		PortPatterns:        cfg.PortPatterns,
		MaxConcurrentProbes: cfg.MaxConcurrentProbes,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPortSource replaces the OS port enumerator.
func WithPortSource(source discovery.PortSource) Option {
	return func(m *Manager) { m.source = source }
}

// WithOpener replaces the physical port opener.
func WithOpener(opener protocol.Opener) Option {
	return func(m *Manager) { m.opener = opener }
}

// WithClock replaces the clock used for settle delays.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithProbeObserver registers a callback run after every probe.
func WithProbeObserver(observer discovery.ProbeObserver) Option {
	return func(m *Manager) { m.onProbe = observer }
}

// Manager owns the device registry and exposes the public device
// operations. Only one scan may run at a time. Frame I/O on one device
// must be serialized by the caller.
type Manager struct {
	options  Options
	registry *Registry
	scanner  *discovery.Scanner
	framer   *protocol.Framer
	source   discovery.PortSource
	opener   protocol.Opener
	clock    clock.Clock
	onProbe  discovery.ProbeObserver
	logger   *zap.Logger
	scanning atomic.Bool
}

// NewManager creates a manager with an empty registry.
func NewManager(options Options, logger *zap.Logger, opts ...Option) (*Manager, error) {
	framer, err := protocol.NewFramer(options.Terminator, options.Encoding)
	if err != nil {
		return nil, fmt.Errorf("invalid frame settings: %w", err)
	}

	m := &Manager{
		options: options,
		framer:  framer,
		opener:  protocol.SerialOpener,
		clock:   clock.New(),
		logger:  logger.With(zap.String("component", "device-manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.source == nil {
		m.source = discovery.NewEnumeratorSource(options.PortPatterns, logger)
	}

	m.registry = NewRegistry(m.logger)
	prober := discovery.NewProber(discovery.ProberConfig{
		IDPrefix: options.IDPrefix,
		BaudRate: options.BaudRate,
		Timeout:  options.Timeout,
	}, framer, m.opener, m.clock, logger)
	m.scanner = discovery.NewScanner(m.source, prober, discovery.ScannerConfig{
		MaxConcurrentProbes: options.MaxConcurrentProbes,
		OnProbe:             m.onProbe,
	}, logger)

	return m, nil
}

// Options returns the configuration the manager was built with.
func (m *Manager) Options() Options {
	return m.options
}

// Scan rebuilds the registry from a fresh probe of every candidate port
// and returns the registered names, sorted. Channels left open by the
// previous registry are closed first. A device name reported by more than
// one port is kept for the first port in probe order.
func (m *Manager) Scan() ([]string, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer m.scanning.Store(false)

	for _, rec := range m.registry.Reset() {
		if err := rec.Channel.Close(); err != nil {
			m.logger.Warn("Failed to close stale channel",
				zap.String("device", rec.Name),
				zap.Error(err),
			)
		}
	}

	for _, found := range m.scanner.Scan() {
		m.registry.Add(&Record{
			Name:    found.Name,
			Port:    found.Port,
			Channel: found.Channel,
		})
	}

	return m.registry.Names(), nil
}

// Ports lists the candidate ports in probe order without opening them.
func (m *Manager) Ports() ([]discovery.PortInfo, error) {
	return m.source.ListPorts()
}

// Scanning reports whether a scan is in flight.
func (m *Manager) Scanning() bool {
	return m.scanning.Load()
}

// Names returns the registered device names, sorted.
func (m *Manager) Names() []string {
	return m.registry.Names()
}

// Records returns every registered device, sorted by name.
func (m *Manager) Records() []*Record {
	return m.registry.Records()
}

// Lookup returns the record a reference points at.
func (m *Manager) Lookup(ref Reference) (*Record, bool) {
	if name, ok := ref.Name(); ok {
		return m.registry.Lookup(name)
	}
	if id, ok := ref.Handle(); ok {
		return m.registry.LookupHandle(id)
	}
	return nil, false
}

// Resolve returns the channel a reference points at, or nil.
func (m *Manager) Resolve(ref Reference) *protocol.Channel {
	rec, ok := m.Lookup(ref)
	if !ok {
		return nil
	}
	return rec.Channel
}

func (m *Manager) deviceLogger(ref Reference) *utils.DeviceLogger {
	if rec, ok := m.Lookup(ref); ok {
		return utils.NewDeviceLogger(m.logger, rec.Name, rec.Port.Name)
	}
	return utils.NewDeviceLogger(m.logger, ref.String(), "")
}

// Open opens the device's channel, waits the open settle delay and reports
// whether the channel is open. The delay applies even when the channel was
// already open. An unknown reference returns false.
func (m *Manager) Open(ref Reference) bool {
	ch := m.Resolve(ref)
	if ch == nil {
		return false
	}

	err := ch.Open()
	m.clock.Sleep(m.options.OpenDelay)

	open := ch.IsOpen()
	m.deviceLogger(ref).LogConnection("open", open, err)
	return open
}

// Close closes the device's channel, waits the close settle delay and
// reports whether the channel is closed. An unknown reference returns true.
func (m *Manager) Close(ref Reference) bool {
	ch := m.Resolve(ref)
	if ch == nil {
		return true
	}

	err := ch.Close()
	m.clock.Sleep(m.options.CloseDelay)

	open := ch.IsOpen()
	m.deviceLogger(ref).LogConnection("close", open, err)
	return !open
}

// IsOpen reports whether the device's channel is open. The reference must
// resolve; otherwise ErrDeviceNotFound is returned.
func (m *Manager) IsOpen(ref Reference) (bool, error) {
	ch := m.Resolve(ref)
	if ch == nil {
		return false, fmt.Errorf("%w: %s", ErrDeviceNotFound, ref)
	}
	return ch.IsOpen(), nil
}

// Send writes one frame. It returns false without error when the reference
// does not resolve or the channel is closed. Write failures, including
// protocol.ErrWriteTimeout, are returned.
func (m *Manager) Send(ref Reference, payload string) (bool, error) {
	ch := m.Resolve(ref)
	if ch == nil || !ch.IsOpen() {
		return false, nil
	}
	if err := ch.WriteFrame(payload); err != nil {
		return false, err
	}
	return true, nil
}

// RecvResult reads one frame and reports how the read ended. An unknown
// reference yields a fault wrapping ErrDeviceNotFound, a closed channel a
// fault wrapping protocol.ErrPortClosed.
func (m *Manager) RecvResult(ref Reference) protocol.RecvResult {
	ch := m.Resolve(ref)
	if ch == nil {
		return protocol.RecvResult{
			Status: protocol.RecvFault,
			Err:    fmt.Errorf("%w: %s", ErrDeviceNotFound, ref),
		}
	}
	return ch.ReadFrame()
}

// Recv reads one frame and returns its payload. It never fails: a timeout
// yields whatever partial data arrived, and any fault yields "".
func (m *Manager) Recv(ref Reference) string {
	res := m.RecvResult(ref)
	if res.Status == protocol.RecvFault {
		return ""
	}
	return res.Payload
}

// Cmd sends payload and returns the reply. Only send errors are returned.
func (m *Manager) Cmd(ref Reference, payload string) (string, error) {
	if _, err := m.Send(ref, payload); err != nil {
		return "", err
	}
	return m.Recv(ref), nil
}

// Flush discards unread input and unsent output on an open channel.
func (m *Manager) Flush(ref Reference) {
	ch := m.Resolve(ref)
	if ch == nil || !ch.IsOpen() {
		return
	}
	if err := ch.Flush(); err != nil {
		m.deviceLogger(ref).Warn("Flush failed", zap.Error(err))
	}
}

// Shutdown closes every open channel without settle delays.
func (m *Manager) Shutdown() error {
	var err error
	for _, rec := range m.registry.Records() {
		if !rec.Channel.IsOpen() {
			continue
		}
		if cerr := rec.Channel.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", rec.Name, cerr))
		}
	}
	return err
}
