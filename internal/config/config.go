// File: internal/config/config.go
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Bridge() BridgeConfig
	Agent() AgentConfig
	Engine() EngineConfig
	Simulation() SimulationConfig

	// Bridge Setters, used by CLI flag overrides.
	SetBridgeHost(string)
	SetBridgePort(int)
	SetBridgeConnectTimeout(time.Duration)
	SetBridgeReadTimeout(time.Duration)
	SetBridgeDrainHandshake(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BridgeCfg     BridgeConfig     `mapstructure:"bridge" yaml:"bridge"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	EngineCfg     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	SimulationCfg SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Bridge() BridgeConfig         { return c.BridgeCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Simulation() SimulationConfig { return c.SimulationCfg }

// Engine returns the engine section with the shared warning interval applied.
func (c *Config) Engine() EngineConfig {
	e := c.EngineCfg
	e.WarnInterval = c.AgentCfg.WarnInterval
	return e
}

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBridgeHost(h string) { c.BridgeCfg.Host = h }
func (c *Config) SetBridgePort(p int)    { c.BridgeCfg.Port = p }
func (c *Config) SetBridgeConnectTimeout(d time.Duration) {
	c.BridgeCfg.ConnectTimeout = d
}
func (c *Config) SetBridgeReadTimeout(d time.Duration) { c.BridgeCfg.ReadTimeout = d }
func (c *Config) SetBridgeDrainHandshake(b bool)       { c.BridgeCfg.DrainHandshake = b }

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

// BridgeConfig configures the session to the decision server.
type BridgeConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// DrainHandshake makes the session read and discard one line after the
	// handshake probe, for servers that acknowledge it.
	DrainHandshake bool            `mapstructure:"drain_handshake" yaml:"drain_handshake"`
	MaxLineBytes   int             `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	ModeSource     string          `mapstructure:"mode_source" yaml:"mode_source"`
	Heartbeat      HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`
}

// Address returns host:port.
func (b BridgeConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// HeartbeatConfig tunes the backoff used by `heartbeat --wait`.
type HeartbeatConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	// MaxConsecutiveFailures is reported in stats. It does not force a downgrade.
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	WarnInterval           time.Duration `mapstructure:"warn_interval" yaml:"warn_interval"`
}

// EngineConfig configures the fixed-rate tick loop.
type EngineConfig struct {
	TickRate    int  `mapstructure:"tick_rate" yaml:"tick_rate"`
	OverrunWarn bool `mapstructure:"overrun_warn" yaml:"overrun_warn"`
	// WarnInterval rate-limits repeated warnings. It is copied from
	// agent.warn_interval so every component throttles alike.
	WarnInterval time.Duration `mapstructure:"-" yaml:"-"`
}

// TickInterval is the period between ticks.
func (e EngineConfig) TickInterval() time.Duration {
	if e.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(e.TickRate)
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "ctlbridge")
	v.SetDefault("logger.log_file", "")
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

	// -- Bridge --
	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", 5001)
	v.SetDefault("bridge.connect_timeout", "250ms")
	v.SetDefault("bridge.read_timeout", "250ms")
	v.SetDefault("bridge.drain_handshake", false)
	v.SetDefault("bridge.max_line_bytes", 1<<20)
	v.SetDefault("bridge.mode_source", "GUI")
	v.SetDefault("bridge.heartbeat.initial_interval", "100ms")
	v.SetDefault("bridge.heartbeat.max_interval", "2s")

	// -- Agent --
	v.SetDefault("agent.max_consecutive_failures", 5)
	v.SetDefault("agent.warn_interval", "1s")

	// -- Engine --
	v.SetDefault("engine.tick_rate", 20)
	v.SetDefault("engine.overrun_warn", true)

	// -- Simulation --
	setSimulationDefaults(v)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The host and port are the values most often injected by a supervisor.
	_ = v.BindEnv("bridge.host", "CTLBRIDGE_HOST")
	_ = v.BindEnv("bridge.port", "CTLBRIDGE_PORT")

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
	if err := c.BridgeCfg.Validate(); err != nil {
		return fmt.Errorf("bridge configuration invalid: %w", err)
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if c.EngineCfg.TickRate <= 0 {
		return fmt.Errorf("engine.tick_rate must be a positive integer")
	}
	if err := c.SimulationCfg.Validate(); err != nil {
		return fmt.Errorf("simulation configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the bridge configuration.
func (b *BridgeConfig) Validate() error {
	if b.Host == "" {
		return fmt.Errorf("host is required")
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if b.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be a positive duration")
	}
	if b.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be a positive duration")
	}
	if b.MaxLineBytes <= 0 {
		return fmt.Errorf("max_line_bytes must be a positive integer")
	}
	if b.ModeSource == "" {
		return fmt.Errorf("mode_source is required")
	}
	return nil
}

// Validate checks the agent configuration.
func (a *AgentConfig) Validate() error {
	if a.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be greater than 0")
	}
	if a.WarnInterval < time.Second {
		return fmt.Errorf("warn_interval must be at least 1s")
	}
	return nil
}
