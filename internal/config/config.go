// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Device   DeviceConfig   `mapstructure:"device"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig holds the CORS allow list
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DeviceConfig is the discovery and transport configuration.
// It is read once at startup and never changes afterwards.
type DeviceConfig struct {
	IDPrefix            string        `mapstructure:"id_prefix"`
	BaudRate            int           `mapstructure:"baud_rate"`
	Terminator          string        `mapstructure:"terminator"`
	Encoding            string        `mapstructure:"encoding"`
	Timeout             time.Duration `mapstructure:"timeout"`
	OpenDelay           time.Duration `mapstructure:"open_delay"`
	CloseDelay          time.Duration `mapstructure:"close_delay"`
	PortPatterns        []string      `mapstructure:"port_patterns"`
	MaxConcurrentProbes int           `mapstructure:"max_concurrent_probes"`
	ScanOnStart         bool          `mapstructure:"scan_on_start"`
	RescanInterval      time.Duration `mapstructure:"rescan_interval"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

const envPrefix = "SERIAL_DEVICE"

// New returns a viper instance with defaults and environment binding applied.
// Callers may bind extra sources (flags) before passing it to LoadFrom.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load loads configuration from an optional file and environment variables.
// An empty path searches ./config.yaml and /etc/serial-device/config.yaml.
func Load(path string) (*Config, error) {
	v := New()
	if err := readFile(v, path); err != nil {
		return nil, err
	}
	return LoadFrom(v)
}

// LoadFile reads a config file into v. A missing file is not an error
// when no explicit path was given.
func LoadFile(v *viper.Viper, path string) error {
	return readFile(v, path)
}

func readFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/serial-device")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// LoadFrom decodes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	v.SetDefault("security.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Device defaults
	v.SetDefault("device.id_prefix", "")
	v.SetDefault("device.baud_rate", 115200)
	v.SetDefault("device.terminator", "\x04")
	v.SetDefault("device.encoding", "utf-8")
	v.SetDefault("device.timeout", "2s")
	v.SetDefault("device.open_delay", "2s")
	v.SetDefault("device.close_delay", "1s")
	v.SetDefault("device.port_patterns", []string{})
	v.SetDefault("device.max_concurrent_probes", 0)
	v.SetDefault("device.scan_on_start", true)
	v.SetDefault("device.rescan_interval", "0s")

	// App defaults
	v.SetDefault("app.name", "serial-device")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if config.Device.BaudRate <= 0 {
		return fmt.Errorf("device.baud_rate must be positive, got %d", config.Device.BaudRate)
	}
	if config.Device.Terminator == "" {
		return fmt.Errorf("device.terminator is required")
	}
	if config.Device.Timeout <= 0 {
		return fmt.Errorf("device.timeout must be positive")
	}
	if config.Device.OpenDelay < 0 || config.Device.CloseDelay < 0 {
		return fmt.Errorf("device settle delays must not be negative")
	}
	if config.Device.MaxConcurrentProbes < 0 {
		return fmt.Errorf("device.max_concurrent_probes must not be negative")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
