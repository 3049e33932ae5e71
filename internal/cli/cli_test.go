package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-device/internal/device"
	"serial-device/internal/discovery"
	"serial-device/internal/protocol/protocoltest"
)

const testConfig = `
device:
  timeout: 30ms
  open_delay: 0s
  close_delay: 0s
logging:
  level: error
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func run(t *testing.T, bus *protocoltest.Bus, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out,
		device.WithOpener(bus.Open),
		device.WithPortSource(discovery.StaticSource(bus.Names())),
	)
	cmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func testBus() *protocoltest.Bus {
	bus := protocoltest.NewBus()
	bus.Attach("/dev/ttyUSB0", protocoltest.Identifier("DEV-1"))
	bus.Attach("/dev/ttyUSB1", protocoltest.Silent())
	return bus
}

func TestPortsCommand(t *testing.T) {
	out, err := run(t, testBus(), "ports")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1\n/dev/ttyUSB0\n", out)

	out, err = run(t, testBus(), "ports", "--table")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 serial port(s)")
	assert.Contains(t, out, "/dev/ttyUSB0")
	assert.Contains(t, out, "Description")

	out, err = run(t, protocoltest.NewBus(), "ports")
	require.NoError(t, err)
	assert.Equal(t, "No serial ports found\n", out)
}

func TestScanCommand(t *testing.T) {
	out, err := run(t, testBus(), "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 device(s)")
	assert.Contains(t, out, "DEV-1")
	assert.Contains(t, out, "/dev/ttyUSB0")

	out, err = run(t, testBus(), "scan", "--prefix", "OTHER-")
	require.NoError(t, err)
	assert.Equal(t, "No devices found\n", out)
}

func TestCmdCommand(t *testing.T) {
	bus := testBus()
	out, err := run(t, bus, "cmd", "DEV-1", "hello", "world", "--flush")
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)
	assert.Equal(t, 0, bus.Active())
}

func TestCmdCommandUnknownDevice(t *testing.T) {
	_, err := run(t, testBus(), "cmd", "ghost", "x")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestCmdCommandRequiresPayload(t *testing.T) {
	_, err := run(t, testBus(), "cmd", "DEV-1")
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "ports"})
	assert.Error(t, cmd.Execute())
}
