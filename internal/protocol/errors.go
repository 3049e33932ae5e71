package protocol

import (
	"errors"
	"fmt"

	"go.bug.st/serial"
)

var (
	// ErrPortClosed is returned for I/O on a channel that is not open.
	ErrPortClosed = errors.New("serial port not open")
	// ErrWriteTimeout is returned when a frame could not be written within the write timeout.
	ErrWriteTimeout = errors.New("serial write timed out")
	// ErrShortWrite is returned when the driver accepted fewer bytes than the frame holds.
	ErrShortWrite = errors.New("incomplete serial write")
	// ErrUnknownEncoding is returned by NewFramer for an unsupported charset name.
	ErrUnknownEncoding = errors.New("unknown text encoding")
)

// describeOpenError adds the driver error code to open failures when there is one.
func describeOpenError(port string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return fmt.Errorf("failed to open serial port %s (%s): %w", port, portErr.EncodedErrorString(), err)
	}
	return fmt.Errorf("failed to open serial port %s: %w", port, err)
}
