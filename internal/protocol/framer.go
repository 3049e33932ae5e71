package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Framer turns payloads into terminator-delimited frames in a fixed
// text encoding, and back.
type Framer struct {
	terminator string
	encoding   encoding.Encoding
	termBytes  []byte
}

// NewFramer builds a framer for the terminator and charset name
// (any WHATWG label, e.g. "utf-8", "latin1", "windows-1252").
func NewFramer(terminator, charset string) (*Framer, error) {
	if terminator == "" {
		return nil, fmt.Errorf("frame terminator must not be empty")
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownEncoding, charset, err)
	}

	termBytes, err := enc.NewEncoder().Bytes([]byte(terminator))
	if err != nil {
		return nil, fmt.Errorf("terminator not representable in %s: %w", charset, err)
	}

	return &Framer{
		terminator: terminator,
		encoding:   enc,
		termBytes:  termBytes,
	}, nil
}

// Terminator returns the terminator as text.
func (f *Framer) Terminator() string {
	return f.terminator
}

// Encode returns payload followed by the terminator, encoded.
func (f *Framer) Encode(payload string) ([]byte, error) {
	frame, err := f.encoding.NewEncoder().Bytes([]byte(payload + f.terminator))
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return frame, nil
}

// Decode decodes raw bytes received from the wire. Raw must not include
// the terminator.
func (f *Framer) Decode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	text, err := f.encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}
	return string(text), nil
}

// Trim strips terminator characters from both ends of s.
func (f *Framer) Trim(s string) string {
	return strings.Trim(s, f.terminator)
}

// split finds the first complete frame in buf. It returns the frame body,
// the remainder after the terminator, and whether a terminator was found.
func (f *Framer) split(buf []byte) (frame, rest []byte, ok bool) {
	i := bytes.Index(buf, f.termBytes)
	if i < 0 {
		return nil, buf, false
	}
	return buf[:i], buf[i+len(f.termBytes):], true
}
