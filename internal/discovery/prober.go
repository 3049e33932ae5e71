// internal/discovery/prober.go
package discovery

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"serial-device/internal/protocol"
)

// IdentifyCommand is sent to every candidate port.
const IdentifyCommand = "id"

// ProbeOutcome says how a probe ended.
type ProbeOutcome string

// Probe outcomes, also used as metric label values.
const (
	// OutcomeIdentified means the reply carried the configured prefix.
	OutcomeIdentified ProbeOutcome = "identified"
	// OutcomeOpenFailed means the port could not be opened.
	OutcomeOpenFailed ProbeOutcome = "open_failed"
	// OutcomeWriteFailed means the identify frame could not be written.
	OutcomeWriteFailed ProbeOutcome = "write_failed"
	// OutcomeNoReply means the read timed out empty or faulted.
	OutcomeNoReply ProbeOutcome = "no_reply"
	// OutcomeUnrecognized means the reply lacked the configured prefix.
	OutcomeUnrecognized ProbeOutcome = "unrecognized"
)

// Discovery is a successfully identified device. Its channel is closed.
type Discovery struct {
	Name    string
	Port    PortInfo
	Channel *protocol.Channel
}

// ProberConfig holds the identification parameters.
type ProberConfig struct {
	IDPrefix string
	BaudRate int
	Timeout  time.Duration
}

// Prober runs the identification handshake on a single port.
type Prober struct {
	config ProberConfig
	framer *protocol.Framer
	opener protocol.Opener
	clock  clock.Clock
	logger *zap.Logger
}

// NewProber creates a prober.
func NewProber(config ProberConfig, framer *protocol.Framer, opener protocol.Opener, clk clock.Clock, logger *zap.Logger) *Prober {
	return &Prober{
		config: config,
		framer: framer,
		opener: opener,
		clock:  clk,
		logger: logger.With(zap.String("component", "prober")),
	}
}

// Probe opens port, waits for the device to settle, asks for its identity and
// closes the port again. It never fails: every fault yields a nil Discovery
// and the matching outcome.
func (p *Prober) Probe(port PortInfo) (*Discovery, ProbeOutcome) {
	logger := p.logger.With(zap.String("port", port.Name))

	ch := protocol.NewChannel(protocol.SerialConfig{
		Port:         port.Name,
		BaudRate:     p.config.BaudRate,
		ReadTimeout:  p.config.Timeout,
		WriteTimeout: p.config.Timeout,
	}, p.framer, p.opener, p.logger)

	if err := ch.Open(); err != nil {
		logger.Debug("Probe skipped port", zap.String("outcome", string(OutcomeOpenFailed)), zap.Error(err))
		return nil, OutcomeOpenFailed
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Debug("Failed to close probed port", zap.Error(err))
		}
	}()

	// devices commonly reset when the line is asserted
	p.clock.Sleep(p.config.Timeout)

	if err := ch.WriteFrame(IdentifyCommand); err != nil {
		logger.Debug("Probe write failed", zap.String("outcome", string(OutcomeWriteFailed)), zap.Error(err))
		return nil, OutcomeWriteFailed
	}

	res := p.readReply(ch)
	if res.Status == protocol.RecvFault {
		logger.Debug("Probe read failed", zap.String("outcome", string(OutcomeNoReply)), zap.Error(res.Err))
		return nil, OutcomeNoReply
	}

	name := p.framer.Trim(res.Payload)
	if name == "" {
		logger.Debug("Probe got no reply", zap.String("outcome", string(OutcomeNoReply)))
		return nil, OutcomeNoReply
	}
	if !strings.HasPrefix(name, p.config.IDPrefix) {
		logger.Debug("Probe reply not recognized",
			zap.String("outcome", string(OutcomeUnrecognized)),
			zap.String("reply", name),
		)
		return nil, OutcomeUnrecognized
	}

	logger.Info("Device identified", zap.String("device", name))
	return &Discovery{Name: name, Port: port, Channel: ch}, OutcomeIdentified
}

// readReply reads the identify reply, skipping empty frames left by leading
// terminators until the probe timeout runs out.
func (p *Prober) readReply(ch *protocol.Channel) protocol.RecvResult {
	deadline := time.Now().Add(p.config.Timeout)
	for {
		res := ch.ReadFrame()
		if res.Status != protocol.RecvOK || p.framer.Trim(res.Payload) != "" || !time.Now().Before(deadline) {
			return res
		}
	}
}
