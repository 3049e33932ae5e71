package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-device/internal/protocol"
)

func TestFramerEncode(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		payload string
		want    []byte
	}{
		{"utf8 ascii", "utf-8", "id", []byte("id\x04")},
		{"utf8 multibyte", "utf-8", "é", []byte{0xc3, 0xa9, 0x04}},
		{"latin1", "latin1", "é", []byte{0xe9, 0x04}},
		{"empty payload", "utf-8", "", []byte{0x04}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := protocol.NewFramer("\x04", tt.charset)
			require.NoError(t, err)

			got, err := f.Encode(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFramerDecode(t *testing.T) {
	f, err := protocol.NewFramer("\x04", "latin1")
	require.NoError(t, err)

	got, err := f.Decode([]byte{0x63, 0x61, 0x66, 0xe9})
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestFramerTrim(t *testing.T) {
	f, err := protocol.NewFramer("\x04", "utf-8")
	require.NoError(t, err)

	assert.Equal(t, "DEV-1", f.Trim("\x04\x04DEV-1\x04"))
	assert.Equal(t, "", f.Trim("\x04"))
	assert.Equal(t, "\x04", f.Terminator())
}

func TestNewFramerErrors(t *testing.T) {
	_, err := protocol.NewFramer("\x04", "klingon-8")
	assert.True(t, errors.Is(err, protocol.ErrUnknownEncoding))

	_, err = protocol.NewFramer("", "utf-8")
	assert.Error(t, err)
}
