// internal/discovery/scanner.go
package discovery

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProbeObserver is notified once per finished probe.
type ProbeObserver func(port PortInfo, outcome ProbeOutcome, elapsed time.Duration)

// ScannerConfig tunes a Scanner.
type ScannerConfig struct {
	// MaxConcurrentProbes bounds in-flight probes. Zero means one per port.
	MaxConcurrentProbes int
	OnProbe             ProbeObserver
}

// Scanner probes every candidate port concurrently.
type Scanner struct {
	source PortSource
	prober *Prober
	config ScannerConfig
	logger *zap.Logger
}

// NewScanner creates a scanner.
func NewScanner(source PortSource, prober *Prober, config ScannerConfig, logger *zap.Logger) *Scanner {
	return &Scanner{
		source: source,
		prober: prober,
		config: config,
		logger: logger.With(zap.String("component", "scanner")),
	}
}

// Scan enumerates candidates, probes all of them and waits for every probe
// to finish. Discoveries are returned in probe order, which is the port
// source order; duplicates are not removed. Enumeration failures yield no
// discoveries.
func (s *Scanner) Scan() []*Discovery {
	ports, err := s.source.ListPorts()
	if err != nil {
		s.logger.Warn("Port enumeration failed", zap.Error(err))
		return nil
	}
	if len(ports) == 0 {
		s.logger.Info("No serial ports found")
		return nil
	}

	s.logger.Info("Probing serial ports", zap.Int("ports", len(ports)))

	// each probe owns one slot
	results := make([]*Discovery, len(ports))

	var g errgroup.Group
	if s.config.MaxConcurrentProbes > 0 {
		g.SetLimit(s.config.MaxConcurrentProbes)
	}
	for i, port := range ports {
		g.Go(func() error {
			start := time.Now()
			found, outcome := s.prober.Probe(port)
			if s.config.OnProbe != nil {
				s.config.OnProbe(port, outcome, time.Since(start))
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	discoveries := make([]*Discovery, 0, len(results))
	for _, d := range results {
		if d != nil {
			discoveries = append(discoveries, d)
		}
	}

	s.logger.Info("Serial scan completed",
		zap.Int("ports", len(ports)),
		zap.Int("identified", len(discoveries)),
	)
	return discoveries
}
