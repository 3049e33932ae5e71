// Package protocoltest provides in-memory serial ports for tests.
package protocoltest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"serial-device/internal/protocol"
)

// EOT is the default frame terminator.
const EOT = "\x04"

var (
	// ErrNoSuchPort is returned when opening a port the bus does not know.
	ErrNoSuchPort = errors.New("no such port")
	// ErrPortBusy is returned when a device is configured to refuse opens.
	ErrPortBusy = errors.New("port busy")
	// ErrReadFault is returned by reads on a device configured to fail them.
	ErrReadFault = errors.New("simulated read fault")
	errClosed    = errors.New("port closed")
)

// Responder returns the raw bytes a device sends back after receiving data.
type Responder func(data string) string

// Device describes the simulated hardware behind one port name.
type Device struct {
	Respond    Responder
	FailOpen   bool
	StuckWrite bool
	FailRead   bool
}

// Identifier answers "id" with name and echoes every other frame.
func Identifier(name string) Device {
	return Device{Respond: func(data string) string {
		var out strings.Builder
		for _, frame := range frames(data) {
			if frame == "id" {
				out.WriteString(name + EOT)
			} else {
				out.WriteString(frame + EOT)
			}
		}
		return out.String()
	}}
}

// Echo answers every frame with itself.
func Echo() Device {
	return Device{Respond: func(data string) string {
		var out strings.Builder
		for _, frame := range frames(data) {
			out.WriteString(frame + EOT)
		}
		return out.String()
	}}
}

// Raw answers any write with reply verbatim.
func Raw(reply string) Device {
	return Device{Respond: func(string) string { return reply }}
}

// Silent accepts writes and never answers.
func Silent() Device {
	return Device{}
}

func frames(data string) []string {
	parts := strings.Split(data, EOT)
	return parts[:len(parts)-1]
}

// Bus is a set of simulated ports addressed by name. Its Open method is a
// protocol.Opener.
type Bus struct {
	mu      sync.Mutex
	devices map[string]Device
	opens   map[string]int
	last    map[string]*Port
	active  map[*Port]struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		devices: make(map[string]Device),
		opens:   make(map[string]int),
		last:    make(map[string]*Port),
		active:  make(map[*Port]struct{}),
	}
}

// Attach places dev behind port name, replacing any previous device.
func (b *Bus) Attach(name string, dev Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[name] = dev
}

// Names lists attached port names.
func (b *Bus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.devices))
	for name := range b.devices {
		names = append(names, name)
	}
	return names
}

// Open implements protocol.Opener.
func (b *Bus) Open(name string, baudRate int) (protocol.Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, ok := b.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPort, name)
	}
	if dev.FailOpen {
		return nil, fmt.Errorf("%w: %s", ErrPortBusy, name)
	}

	b.opens[name]++
	p := &Port{
		bus:    b,
		name:   name,
		device: dev,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.active[p] = struct{}{}
	b.last[name] = p
	return p, nil
}

// Last returns the most recent handle opened on name, or nil.
func (b *Bus) Last(name string) *Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[name]
}

// Opens returns how many times name has been opened.
func (b *Bus) Opens(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[name]
}

// Active returns how many ports are currently open.
func (b *Bus) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

func (b *Bus) release(p *Port) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, p)
}

// Port is one open handle on a simulated device.
type Port struct {
	bus    *Bus
	name   string
	device Device

	mu          sync.Mutex
	rx          []byte
	written     []byte
	readTimeout time.Duration
	closed      bool
	inputResets int
	signal      chan struct{}
	done        chan struct{}
}

// Write delivers data to the device and queues its answer.
func (p *Port) Write(data []byte) (int, error) {
	if p.device.StuckWrite {
		<-p.done
		return 0, errClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errClosed
	}
	p.written = append(p.written, data...)
	if p.device.Respond != nil {
		p.rx = append(p.rx, p.device.Respond(string(data))...)
	}
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return len(data), nil
}

// Read blocks until data is available or the read timeout elapses.
// A timeout returns 0 bytes and no error, like a real serial driver.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	deadline := time.Now().Add(p.readTimeout)
	p.mu.Unlock()

	for {
		p.mu.Lock()
		switch {
		case p.closed:
			p.mu.Unlock()
			return 0, errClosed
		case p.device.FailRead:
			p.mu.Unlock()
			return 0, ErrReadFault
		case len(p.rx) > 0:
			n := copy(buf, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-p.signal:
		case <-p.done:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Inject queues bytes as if the device had sent them unprompted.
func (p *Port) Inject(data string) {
	p.mu.Lock()
	p.rx = append(p.rx, data...)
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Written returns everything written to this handle.
func (p *Port) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

// InputResets counts ResetInputBuffer calls.
func (p *Port) InputResets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputResets
}

// Close closes the handle and wakes blocked readers and writers.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errClosed
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.bus.release(p)
	return nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = nil
	p.inputResets++
	return nil
}

func (p *Port) ResetOutputBuffer() error {
	return nil
}
