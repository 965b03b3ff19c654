// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Stability() StabilityConfig
	Dispatch() DispatchConfig
	Overlay() OverlayConfig
	Metrics() MetricsConfig

	SetAgentAddress(address string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	StabilityCfg StabilityConfig `mapstructure:"stability" yaml:"stability"`
	DispatchCfg  DispatchConfig  `mapstructure:"dispatch" yaml:"dispatch"`
	OverlayCfg   OverlayConfig   `mapstructure:"overlay" yaml:"overlay"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Stability() StabilityConfig { return c.StabilityCfg }
func (c *Config) Dispatch() DispatchConfig   { return c.DispatchCfg }
func (c *Config) Overlay() OverlayConfig     { return c.OverlayCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAgentAddress(address string) { c.AgentCfg.Address = address }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// AgentConfig covers the controller connection and the heartbeat.
type AgentConfig struct {
	// Address is the controller endpoint. The legacy tcp:// form is accepted.
	Address              string        `mapstructure:"address" yaml:"address"`
	HeartbeatDelay       time.Duration `mapstructure:"heartbeat_delay" yaml:"heartbeat_delay"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReconnectMinInterval time.Duration `mapstructure:"reconnect_min_interval" yaml:"reconnect_min_interval"`
	OutboundQueue        int           `mapstructure:"outbound_queue" yaml:"outbound_queue"`
}

// StabilityConfig tunes page-load detection.
type StabilityConfig struct {
	QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
	MaxWait     time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// DispatchConfig holds per-operation tuning.
type DispatchConfig struct {
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout" yaml:"screenshot_timeout"`
	JPEGQuality       int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	TapDuration       time.Duration `mapstructure:"tap_duration" yaml:"tap_duration"`
}

// OverlayConfig sets the on-screen message shown at startup.
type OverlayConfig struct {
	InitialText string `mapstructure:"initial_text" yaml:"initial_text"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

const (
	// DefaultAddress is the documented controller endpoint.
	DefaultAddress = "ws://127.0.0.1:5555/agent"
	// EnvPrefix namespaces environment overrides, e.g. IRPA_AGENT_ADDRESS.
	EnvPrefix = "IRPA"
)

// ConfigureEnv lets environment variables override any key that has a default.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "irpa-agent")
	v.SetDefault("logger.log_file", "irpa-agent.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.address", DefaultAddress)
	v.SetDefault("agent.heartbeat_delay", "30ms")
	v.SetDefault("agent.heartbeat_interval", "3s")
	v.SetDefault("agent.write_timeout", "10s")
	v.SetDefault("agent.reconnect_min_interval", "1s")
	v.SetDefault("agent.outbound_queue", 64)

	// -- Stability --
	v.SetDefault("stability.quiet_period", "100ms")
	v.SetDefault("stability.max_wait", "3s")

	// -- Dispatch --
	v.SetDefault("dispatch.screenshot_timeout", "5s")
	v.SetDefault("dispatch.jpeg_quality", 70)
	v.SetDefault("dispatch.tap_duration", "50ms")

	// -- Overlay --
	v.SetDefault("overlay.initial_text", "Hello, I am your automation assistant.")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_address", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.StabilityCfg.Validate(); err != nil {
		return fmt.Errorf("stability configuration invalid: %w", err)
	}
	if err := c.DispatchCfg.Validate(); err != nil {
		return fmt.Errorf("dispatch configuration invalid: %w", err)
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.ListenAddress == "" {
		return errors.New("metrics.listen_address is required when metrics are enabled")
	}
	return nil
}

// Validate checks the connection settings.
func (a *AgentConfig) Validate() error {
	if strings.TrimSpace(a.Address) == "" {
		return errors.New("address is a required configuration field")
	}
	if a.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be a positive duration")
	}
	if a.HeartbeatDelay < 0 {
		return errors.New("heartbeat_delay must not be negative")
	}
	if a.WriteTimeout <= 0 {
		return errors.New("write_timeout must be a positive duration")
	}
	if a.ReconnectMinInterval <= 0 {
		return errors.New("reconnect_min_interval must be a positive duration")
	}
	if a.OutboundQueue <= 0 {
		return errors.New("outbound_queue must be a positive integer")
	}
	return nil
}

// Validate checks the stability window.
func (s *StabilityConfig) Validate() error {
	if s.QuietPeriod <= 0 {
		return errors.New("quiet_period must be a positive duration")
	}
	if s.MaxWait < s.QuietPeriod {
		return fmt.Errorf("max_wait (%s) must not be shorter than quiet_period (%s)", s.MaxWait, s.QuietPeriod)
	}
	return nil
}

// Validate checks the per-operation tuning.
func (d *DispatchConfig) Validate() error {
	if d.ScreenshotTimeout <= 0 {
		return errors.New("screenshot_timeout must be a positive duration")
	}
	if d.JPEGQuality < 1 || d.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", d.JPEGQuality)
	}
	if d.TapDuration <= 0 {
		return errors.New("tap_duration must be a positive duration")
	}
	return nil
}
