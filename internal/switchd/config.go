package switchd

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/larsks/switchsync/internal/api"
	"github.com/larsks/switchsync/internal/config"
	"github.com/larsks/switchsync/internal/output"
	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/switchsync"
	"github.com/larsks/switchsync/internal/transportconfig"
)

const (
	commandName = "switchd"

	RoleAuthority = "authority"
	RoleProxy     = "proxy"

	defaultPath = "switch"
)

type (
	// OutputConfig selects the physical output of an authority; an empty
	// driver makes a virtual authority
	OutputConfig struct {
		Driver  string        `mapstructure:"driver"`
		Pin     string        `mapstructure:"pin"`
		Chip    string        `mapstructure:"chip"`
		SPIPort string        `mapstructure:"spi-port"`
		Address string        `mapstructure:"address"`
		Relay   int           `mapstructure:"relay"`
		Timeout time.Duration `mapstructure:"timeout"`
	}

	// Config holds the switchd configuration
	Config struct {
		ConfigFile   string        `mapstructure:"config"`
		Role         string        `mapstructure:"role"`
		Path         string        `mapstructure:"path"`
		LogLevel     string        `mapstructure:"log-level"`
		QueryTimeout time.Duration `mapstructure:"query-timeout"`
		Output       OutputConfig  `mapstructure:"output"`
		API          api.Config    `mapstructure:"api"`

		Transport transportconfig.Config `mapstructure:",squash"`
	}
)

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		ConfigFile:   config.DefaultConfigFile(commandName),
		Role:         RoleAuthority,
		Path:         defaultPath,
		LogLevel:     "info",
		QueryTimeout: switchsync.DefaultQueryTimeout,
		API:          api.NewConfig(),
		Transport:    transportconfig.NewConfig(),
	}
}

// AddFlags adds command-line flags for all configuration options
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "Config file to use")
	fs.StringVar(&c.Role, "role", c.Role, "Participant role (authority or proxy)")
	fs.StringVar(&c.Path, "path", c.Path, "Resource path of the switch")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.DurationVar(&c.QueryTimeout, "query-timeout", c.QueryTimeout, "Limit on a proxy state query")
	fs.StringVar(&c.Output.Driver, "output.driver", c.Output.Driver, fmt.Sprintf("Output driver for an authority %v (empty for a virtual switch)", output.ListDrivers()))
	fs.StringVar(&c.Output.Pin, "output.pin", c.Output.Pin, "Output pin as pin[:active-high|active-low]")
	fs.StringVar(&c.Output.Chip, "output.chip", c.Output.Chip, "GPIO chip (gpiocdev driver only)")
	fs.StringVar(&c.Output.SPIPort, "output.spi-port", c.Output.SPIPort, "SPI port of the board (piface driver only)")
	fs.StringVar(&c.Output.Address, "output.address", c.Output.Address, "Device address (tasmota driver only)")
	fs.IntVar(&c.Output.Relay, "output.relay", c.Output.Relay, "Relay number, 0 for a single relay device (tasmota driver only)")
	fs.DurationVar(&c.Output.Timeout, "output.timeout", c.Output.Timeout, "Device request timeout (tasmota driver only)")
	c.API.AddFlags(fs, "api")
	c.Transport.AddFlags(fs)
}

func (c *Config) defaults() map[string]any {
	def := NewConfig()
	defaults := map[string]any{
		"role":          def.Role,
		"path":          def.Path,
		"log-level":     def.LogLevel,
		"query-timeout": def.QueryTimeout,
	}
	for k, v := range api.Defaults("api") {
		defaults[k] = v
	}
	for k, v := range transportconfig.Defaults() {
		defaults[k] = v
	}
	return defaults
}

// LoadConfig loads configuration using pflag.CommandLine
func (c *Config) LoadConfig() error {
	return c.LoadConfigWithFlagSet(pflag.CommandLine)
}

// LoadConfigWithFlagSet loads configuration with proper precedence using a custom flag set (for testing)
func (c *Config) LoadConfigWithFlagSet(fs *pflag.FlagSet) error {
	configFile, err := config.ResolveConfigFile(c.ConfigFile, config.DefaultConfigFile(commandName))
	if err != nil {
		return err
	}
	c.ConfigFile = configFile

	loader := config.NewConfigLoader()
	loader.SetConfigFile(configFile)
	loader.SetDefaults(c.defaults())
	loader.SetStrictMode(true)

	if err := loader.LoadConfigWithFlagSet(c, fs); err != nil {
		return err
	}

	return c.Validate()
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Role {
	case RoleAuthority, RoleProxy:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}

	if c.Path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidConfig)
	}

	if c.QueryTimeout < 0 {
		return fmt.Errorf("%w: query timeout must not be negative", ErrInvalidConfig)
	}

	if c.Output.Driver != "" {
		if c.Role != RoleAuthority {
			return fmt.Errorf("%w: only an authority drives an output", ErrInvalidConfig)
		}
		if err := output.ValidateConfig(c.Output.Driver, c.outputOptions()); err != nil {
			return err
		}
	}

	if c.API.Enabled && (c.API.ListenPort < 0 || c.API.ListenPort > 65535) {
		return fmt.Errorf("%w: invalid listen port %d", ErrInvalidConfig, c.API.ListenPort)
	}

	return c.Transport.Validate()
}

func (c *Config) outputOptions() map[string]interface{} {
	options := map[string]interface{}{}
	if c.Output.Pin != "" {
		options["pin"] = c.Output.Pin
	}
	if c.Output.Chip != "" {
		options["chip"] = c.Output.Chip
	}
	if c.Output.SPIPort != "" {
		options["spi-port"] = c.Output.SPIPort
	}
	if c.Output.Address != "" {
		options["address"] = c.Output.Address
	}
	if c.Output.Relay != 0 {
		options["relay"] = c.Output.Relay
	}
	if c.Output.Timeout != 0 {
		options["timeout"] = c.Output.Timeout
	}
	return options
}

// HighState returns the logical state that drives the output high
func (c *Config) HighState() (switchstate.State, error) {
	if c.Output.Pin == "" {
		return switchstate.On, nil
	}
	spec, err := output.ParsePin(c.Output.Pin)
	if err != nil {
		return switchstate.Off, err
	}
	return spec.Polarity.HighState(), nil
}
