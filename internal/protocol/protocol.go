// internal/protocol/protocol.go
package protocol

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of a serial port the transport relies on.
// go.bug.st/serial ports satisfy it directly.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener opens the named physical port at the given baud rate.
type Opener func(name string, baudRate int) (Port, error)

// SerialOpener opens a real serial port with 8N1 framing.
func SerialOpener(name string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialConfig represents serial channel configuration
type SerialConfig struct {
	Port         string        `json:"port"`
	BaudRate     int           `json:"baud_rate"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// Stats is a point-in-time copy of channel counters
type Stats struct {
	FramesWritten int64     `json:"frames_written"`
	FramesRead    int64     `json:"frames_read"`
	BytesWritten  int64     `json:"bytes_written"`
	BytesRead     int64     `json:"bytes_read"`
	ErrorCount    int64     `json:"error_count"`
	LastActivity  time.Time `json:"last_activity"`
}
