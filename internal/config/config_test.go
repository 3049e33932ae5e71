package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(New())
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Device.IDPrefix)
	assert.Equal(t, 115200, cfg.Device.BaudRate)
	assert.Equal(t, "\x04", cfg.Device.Terminator)
	assert.Equal(t, "utf-8", cfg.Device.Encoding)
	assert.Equal(t, 2*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Device.OpenDelay)
	assert.Equal(t, time.Second, cfg.Device.CloseDelay)
	assert.Equal(t, 0, cfg.Device.MaxConcurrentProbes)
	assert.Equal(t, "0.0.0.0:8084", cfg.GetServerAddr())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
device:
  id_prefix: "SD-"
  baud_rate: 9600
  timeout: 500ms
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("SERIAL_DEVICE_DEVICE_CLOSE_DELAY", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "SD-", cfg.Device.IDPrefix)
	assert.Equal(t, 9600, cfg.Device.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.CloseDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.Device.BaudRate = 0 }},
		{"empty terminator", func(c *Config) { c.Device.Terminator = "" }},
		{"zero timeout", func(c *Config) { c.Device.Timeout = 0 }},
		{"negative close delay", func(c *Config) { c.Device.CloseDelay = -time.Second }},
		{"negative probe limit", func(c *Config) { c.Device.MaxConcurrentProbes = -1 }},
		{"bad environment", func(c *Config) { c.App.Environment = "qa" }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(New())
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
