// internal/protocol/channel.go
package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const readChunkSize = 256

// RecvStatus classifies the outcome of reading one frame.
type RecvStatus int

const (
	// RecvOK means a terminator was seen and Payload holds the frame body.
	RecvOK RecvStatus = iota
	// RecvEmpty means the read timeout elapsed first. Payload holds whatever
	// partial data arrived, often nothing.
	RecvEmpty
	// RecvFault means the driver reported an error. Err holds the cause.
	RecvFault
)

func (s RecvStatus) String() string {
	switch s {
	case RecvOK:
		return "ok"
	case RecvEmpty:
		return "empty"
	case RecvFault:
		return "fault"
	default:
		return fmt.Sprintf("RecvStatus(%d)", int(s))
	}
}

// RecvResult is the result of Channel.ReadFrame.
type RecvResult struct {
	Status  RecvStatus
	Payload string
	Err     error
}

// Channel is a reopenable serial endpoint carrying terminator-delimited frames.
//
// Open, Close and IsOpen are safe to call concurrently. Frame I/O on one
// channel must be serialized by the caller.
type Channel struct {
	id     uuid.UUID
	config SerialConfig
	framer *Framer
	opener Opener
	logger *zap.Logger

	mutex sync.RWMutex
	port  Port

	// bytes read past the last terminator, kept for the next ReadFrame
	rxMutex sync.Mutex
	pending []byte

	framesWritten atomic.Int64
	framesRead    atomic.Int64
	bytesWritten  atomic.Int64
	bytesRead     atomic.Int64
	errorCount    atomic.Int64
	lastActivity  atomic.Int64
}

// NewChannel creates a closed channel for config.Port.
func NewChannel(config SerialConfig, framer *Framer, opener Opener, logger *zap.Logger) *Channel {
	id := uuid.New()
	return &Channel{
		id:     id,
		config: config,
		framer: framer,
		opener: opener,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
			zap.String("channel_id", id.String()),
		),
	}
}

// ID is the stable handle of this channel.
func (c *Channel) ID() uuid.UUID { return c.id }

// PortName returns the endpoint this channel is bound to.
func (c *Channel) PortName() string { return c.config.Port }

// Open opens the physical port. Opening an open channel is a no-op.
func (c *Channel) Open() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.port != nil {
		return nil
	}

	c.logger.Debug("Opening serial port", zap.Int("baud_rate", c.config.BaudRate))

	port, err := c.opener(c.config.Port, c.config.BaudRate)
	if err != nil {
		c.errorCount.Add(1)
		return describeOpenError(c.config.Port, err)
	}

	if err := port.SetReadTimeout(c.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	c.port = port
	c.rxMutex.Lock()
	c.pending = nil
	c.rxMutex.Unlock()
	c.touch()

	c.logger.Debug("Serial port opened")
	return nil
}

// Close closes the physical port. Closing a closed channel is a no-op.
func (c *Channel) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.port == nil {
		return nil
	}

	err := c.port.Close()
	c.port = nil
	if err != nil {
		c.errorCount.Add(1)
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	c.logger.Debug("Serial port closed")
	return nil
}

// IsOpen reports whether the physical port is open.
func (c *Channel) IsOpen() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.port != nil
}

func (c *Channel) current() Port {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.port
}

// WriteFrame writes payload followed by the terminator. If the driver has
// not accepted the whole frame within the write timeout it returns
// ErrWriteTimeout.
func (c *Channel) WriteFrame(payload string) error {
	port := c.current()
	if port == nil {
		return ErrPortClosed
	}

	frame, err := c.framer.Encode(payload)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		n, err := port.Write(frame)
		if err == nil && n != len(frame) {
			err = fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(frame))
		}
		done <- err
	}()

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			c.errorCount.Add(1)
			return fmt.Errorf("failed to write to serial port: %w", err)
		}
	case <-timer.C:
		c.errorCount.Add(1)
		c.logger.Warn("Serial write timed out", zap.Duration("timeout", c.config.WriteTimeout))
		return fmt.Errorf("%w after %s", ErrWriteTimeout, c.config.WriteTimeout)
	}

	c.framesWritten.Add(1)
	c.bytesWritten.Add(int64(len(frame)))
	c.touch()
	c.logger.Debug("Frame written", zap.Int("bytes", len(frame)))
	return nil
}

// ReadFrame reads until the terminator or until the read timeout elapses.
func (c *Channel) ReadFrame() RecvResult {
	port := c.current()
	if port == nil {
		return RecvResult{Status: RecvFault, Err: ErrPortClosed}
	}

	c.rxMutex.Lock()
	defer c.rxMutex.Unlock()

	deadline := time.Now().Add(c.config.ReadTimeout)
	chunk := make([]byte, readChunkSize)

	for {
		if frame, rest, ok := c.framer.split(c.pending); ok {
			c.pending = append([]byte(nil), rest...)
			return c.decoded(RecvOK, frame)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			partial := c.pending
			c.pending = nil
			return c.decoded(RecvEmpty, partial)
		}

		if err := port.SetReadTimeout(remaining); err != nil {
			return c.fault(fmt.Errorf("failed to set read timeout: %w", err))
		}

		n, err := port.Read(chunk)
		if n > 0 {
			c.pending = append(c.pending, chunk[:n]...)
			c.bytesRead.Add(int64(n))
			c.touch()
		}
		if err != nil {
			return c.fault(fmt.Errorf("failed to read from serial port: %w", err))
		}
	}
}

func (c *Channel) decoded(status RecvStatus, raw []byte) RecvResult {
	payload, err := c.framer.Decode(raw)
	if err != nil {
		return c.fault(err)
	}
	if status == RecvOK {
		c.framesRead.Add(1)
	}
	return RecvResult{Status: status, Payload: payload}
}

func (c *Channel) fault(err error) RecvResult {
	c.pending = nil
	c.errorCount.Add(1)
	c.logger.Warn("Serial read failed", zap.Error(err))
	return RecvResult{Status: RecvFault, Err: err}
}

// Flush discards unread input, unsent output and any buffered partial frame.
func (c *Channel) Flush() error {
	port := c.current()
	if port == nil {
		return ErrPortClosed
	}

	c.rxMutex.Lock()
	c.pending = nil
	c.rxMutex.Unlock()

	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("failed to reset output buffer: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	stats := Stats{
		FramesWritten: c.framesWritten.Load(),
		FramesRead:    c.framesRead.Load(),
		BytesWritten:  c.bytesWritten.Load(),
		BytesRead:     c.bytesRead.Load(),
		ErrorCount:    c.errorCount.Load(),
	}
	if ts := c.lastActivity.Load(); ts != 0 {
		stats.LastActivity = time.Unix(0, ts)
	}
	return stats
}

func (c *Channel) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}
